// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package secrets stores API keys for hosted model backends in mlocked
// memory so they cannot be swapped to disk. Keys are sealed into an
// encrypted memguard enclave and opened only for the instant a backend
// needs the plaintext.
//
// Systems without a sufficient RLIMIT_MEMLOCK refuse to seal unless
// TERN_INSECURE_MEMORY=true acknowledges the downgrade, in which case
// keys live in ordinary Go memory with best-effort wiping.
package secrets

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"

	"github.com/awnumar/memguard"
	"golang.org/x/sys/unix"
)

// =============================================================================
// Constants
// =============================================================================

const (
	// MaxKeySize bounds a single sealed secret. API keys are short; a
	// value over this size is almost certainly not a key.
	MaxKeySize = 4 * 1024

	// MinMlockLimitKB is the minimum mlock limit required in kilobytes.
	// Each key costs a few pages plus memguard's internal canary and
	// coffer allocations.
	MinMlockLimitKB = 64

	// insecureEnvVar acknowledges running without mlocked memory.
	insecureEnvVar = "TERN_INSECURE_MEMORY"
)

// =============================================================================
// Errors
// =============================================================================

var (
	// ErrNotFound indicates no secret was present in any configured source.
	ErrNotFound = errors.New("secret not found")

	// ErrDestroyed indicates the key was already wiped.
	ErrDestroyed = errors.New("secret already destroyed")

	// ErrSecureMemory indicates the system cannot mlock enough memory and
	// the insecure fallback was not enabled.
	ErrSecureMemory = errors.New("secure memory unavailable")

	// ErrInvalidSecret indicates an empty or oversized secret value.
	ErrInvalidSecret = errors.New("invalid secret")
)

// =============================================================================
// Package Variables
// =============================================================================

var (
	// memguardInitOnce ensures memguard initialization happens only once.
	memguardInitOnce sync.Once

	// mlockSufficient is set during initialization to indicate if secure
	// memory is available.
	mlockSufficient bool

	// currentMlockLimitKB stores the current mlock limit for logging.
	currentMlockLimitKB int64
)

// =============================================================================
// Structs
// =============================================================================

// Key holds one secret. When secure memory is available the value lives
// in an encrypted enclave and is decrypted only inside Reveal; otherwise
// it sits in an ordinary byte slice that Destroy zeroes best-effort.
//
// # Thread Safety
//
// Safe for concurrent use.
type Key struct {
	mu        sync.Mutex
	enclave   *memguard.Enclave
	plain     []byte
	destroyed bool
}

// =============================================================================
// Constructor Functions
// =============================================================================

// Seal stores a secret value in protected memory.
//
// # Description
//
// Copies the value into a memguard enclave when the system mlock limit
// allows, or into ordinary memory when TERN_INSECURE_MEMORY=true. Without
// either, Seal refuses the secret so it never silently lands in swappable
// memory.
//
// # Inputs
//
//   - value: Secret plaintext (1 byte to MaxKeySize)
//
// # Outputs
//
//   - *Key: Sealed key ready for Reveal
//   - error: ErrInvalidSecret or ErrSecureMemory
//
// # Limitations
//
//   - Go strings are immutable; the caller's copy of value cannot be wiped.
func Seal(value string) (*Key, error) {
	if value == "" || len(value) > MaxKeySize {
		return nil, fmt.Errorf("%w: %d bytes", ErrInvalidSecret, len(value))
	}

	initMemguard()

	if mlockSufficient {
		return &Key{enclave: memguard.NewEnclave([]byte(value))}, nil
	}

	if os.Getenv(insecureEnvVar) == "true" {
		slog.Warn("Sealing secret in INSECURE memory - value may be swapped to disk",
			"current_limit_kb", currentMlockLimitKB,
			"required_kb", MinMlockLimitKB,
		)
		return &Key{plain: []byte(value)}, nil
	}

	return nil, fmt.Errorf(
		"%w: mlock limit %d KB, need %d KB. Raise the limit or set %s=true",
		ErrSecureMemory, currentMlockLimitKB, MinMlockLimitKB, insecureEnvVar,
	)
}

// FromEnv seals a secret from the environment or a mounted secret file.
//
// # Description
//
// Checks the environment variable first, then falls back to reading the
// secret file (the container-secret mount convention). Whitespace is
// trimmed from file contents.
//
// # Inputs
//
//   - envVar: Environment variable name (e.g. "OPENAI_API_KEY")
//   - secretFile: Fallback path (e.g. "/run/secrets/openai_api_key"); may be empty
//
// # Outputs
//
//   - *Key: Sealed key
//   - error: ErrNotFound when neither source yields a value
func FromEnv(envVar, secretFile string) (*Key, error) {
	if value := os.Getenv(envVar); value != "" {
		return Seal(value)
	}

	if secretFile != "" {
		raw, err := os.ReadFile(secretFile)
		if err == nil {
			value := strings.TrimSpace(string(raw))
			if value != "" {
				slog.Info("Read secret from mounted file", "path", secretFile)
				return Seal(value)
			}
		}
	}

	return nil, fmt.Errorf("%w: %s not set and %q unreadable", ErrNotFound, envVar, secretFile)
}

// =============================================================================
// Key Methods
// =============================================================================

// Reveal returns the secret plaintext.
//
// # Description
//
// Opens the enclave, copies the plaintext out, and destroys the decrypted
// buffer before returning. The returned string is an ordinary Go string;
// callers should hold it only as long as the request that needs it.
//
// # Outputs
//
//   - string: Secret plaintext
//   - error: ErrDestroyed after Destroy, or an enclave open failure
func (k *Key) Reveal() (string, error) {
	k.mu.Lock()
	defer k.mu.Unlock()

	if k.destroyed {
		return "", ErrDestroyed
	}

	if k.enclave == nil {
		return string(k.plain), nil
	}

	buf, err := k.enclave.Open()
	if err != nil {
		return "", fmt.Errorf("open enclave: %w", err)
	}
	value := string(buf.Bytes())
	buf.Destroy()

	return value, nil
}

// Destroy wipes the key. Safe to call multiple times.
func (k *Key) Destroy() {
	k.mu.Lock()
	defer k.mu.Unlock()

	if k.destroyed {
		return
	}

	for i := range k.plain {
		k.plain[i] = 0
	}
	k.plain = nil
	k.enclave = nil
	k.destroyed = true
}

// =============================================================================
// Package Initialization Functions
// =============================================================================

// initMemguard initializes memguard and checks mlock limits once.
func initMemguard() {
	memguardInitOnce.Do(func() {
		memguard.CatchInterrupt()
		mlockSufficient, currentMlockLimitKB = checkMlockLimit()
		logMlockStatus()
	})
}

// checkMlockLimit queries the kernel for the mlock resource limit and
// compares it against the minimum needed for sealing keys.
//
// # Outputs
//
//   - bool: True if limit is sufficient (>= MinMlockLimitKB)
//   - int64: Current limit in kilobytes (-1 if unlimited)
func checkMlockLimit() (bool, int64) {
	var rlimit unix.Rlimit
	if err := unix.Getrlimit(unix.RLIMIT_MEMLOCK, &rlimit); err != nil {
		slog.Warn("Could not determine mlock limit", "error", err)
		return true, -1
	}

	if rlimit.Cur == unix.RLIM_INFINITY {
		return true, -1
	}

	limitKB := int64(rlimit.Cur / 1024)
	return limitKB >= MinMlockLimitKB, limitKB
}

// logMlockStatus logs the probe result.
func logMlockStatus() {
	if mlockSufficient {
		slog.Debug("Secure memory initialized",
			"mlock_limit_kb", currentMlockLimitKB,
			"required_kb", MinMlockLimitKB,
		)
		return
	}

	if os.Getenv(insecureEnvVar) == "true" {
		slog.Warn("SECURITY: Running with insecure memory - mlock limit insufficient",
			"current_limit_kb", currentMlockLimitKB,
			"required_kb", MinMlockLimitKB,
			"env_override", insecureEnvVar+"=true",
		)
	} else {
		slog.Error("mlock limit insufficient for secure memory",
			"current_limit_kb", currentMlockLimitKB,
			"required_kb", MinMlockLimitKB,
			"help", "raise RLIMIT_MEMLOCK or set "+insecureEnvVar+"=true",
		)
	}
}

// =============================================================================
// Utility Functions
// =============================================================================

// IsMlockAvailable reports whether secure memory is available.
//
// # Outputs
//
//   - bool: True if keys will be sealed into mlocked enclaves
//   - int64: Current mlock limit in KB (-1 if unlimited)
func IsMlockAvailable() (bool, int64) {
	initMemguard()
	return mlockSufficient, currentMlockLimitKB
}

// Purge wipes all memguard-allocated memory. Call during shutdown; every
// sealed Key is invalid afterwards.
func Purge() {
	memguard.Purge()
	slog.Info("Purged all secure memory")
}
