// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package perturb

import (
	_ "embed"
	"fmt"
	"strings"
	"sync"
)

// Dictionary identifies one embedded cultural name list.
type Dictionary string

const (
	DictionaryJain   Dictionary = "jain"
	DictionarySikh   Dictionary = "sikh"
	DictionaryHindu  Dictionary = "hindu"
	DictionaryMuslim Dictionary = "muslim"
)

//go:embed data/names_jain.txt
var jainNamesData string

//go:embed data/names_sikh.txt
var sikhNamesData string

//go:embed data/names_hindu.txt
var hinduNamesData string

//go:embed data/names_muslim.txt
var muslimNamesData string

// first_names.txt backs person detection on samples without gold
// entities: a capitalized token matching this list is treated as a
// person name.
//
//go:embed data/first_names.txt
var firstNamesData string

var (
	namesOnce     sync.Once
	nameLists     map[Dictionary][]string
	firstNameSet  map[string]struct{}
	dictionaryIDs []Dictionary
)

func loadNames() {
	namesOnce.Do(func() {
		nameLists = map[Dictionary][]string{
			DictionaryJain:   parseNameList(jainNamesData),
			DictionarySikh:   parseNameList(sikhNamesData),
			DictionaryHindu:  parseNameList(hinduNamesData),
			DictionaryMuslim: parseNameList(muslimNamesData),
		}
		dictionaryIDs = []Dictionary{
			DictionaryJain, DictionarySikh, DictionaryHindu, DictionaryMuslim,
		}

		firstNameSet = make(map[string]struct{})
		for _, name := range parseNameList(firstNamesData) {
			firstNameSet[strings.ToLower(name)] = struct{}{}
		}
		// Substitution sources are recognizable names too; otherwise a
		// second pass over already substituted text would find nothing.
		for _, names := range nameLists {
			for _, name := range names {
				firstNameSet[strings.ToLower(name)] = struct{}{}
			}
		}
	})
}

// parseNameList parses one name per line, skipping blanks and
// comment lines starting with #.
func parseNameList(data string) []string {
	var names []string
	for _, line := range strings.Split(data, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		names = append(names, line)
	}
	return names
}

// Names returns the name list for a dictionary.
//
// The returned slice is a copy; callers may shuffle or filter it.
func Names(d Dictionary) ([]string, error) {
	loadNames()
	names, ok := nameLists[d]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownDictionary, d)
	}
	out := make([]string, len(names))
	copy(out, names)
	return out, nil
}

// Dictionaries returns the ids of all embedded name lists.
func Dictionaries() []Dictionary {
	loadNames()
	out := make([]Dictionary, len(dictionaryIDs))
	copy(out, dictionaryIDs)
	return out
}

// isCommonFirstName reports whether word matches the embedded first
// name lexicon, ignoring case.
func isCommonFirstName(word string) bool {
	loadNames()
	_, ok := firstNameSet[strings.ToLower(word)]
	return ok
}
