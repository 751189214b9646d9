// Package fingerprint derives the stable grouping key of a captured failure.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"regexp"
	"strings"

	"github.com/google/uuid"

	"faultline/internal/domain"
)

// MaxFrames is the number of normalized stack lines kept for hashing.
const MaxFrames = 10

// Stack normalization patterns, applied in order. Every replacement is a
// fixed point of the whole sequence, which keeps NormalizeStack idempotent.
var (
	// runtime/debug frames: "/src/app/main.go:42 +0x1d"
	goFramePattern = regexp.MustCompile(`\.go:\d+(?: \+0x[0-9a-fA-F]+)?`)

	// "(file:line:col)"
	parenFramePattern = regexp.MustCompile(`\([^()]*:\d+:\d+\)`)

	// "at file:line:col" and "at async file:line:col"
	bareFramePattern = regexp.MustCompile(`(at (?:async )?)[^\s()]+:\d+:\d+`)

	hexPattern       = regexp.MustCompile(`0x[0-9a-fA-F]+`)
	goroutinePattern = regexp.MustCompile(`goroutine \d+`)

	// Runs of directory segments: "/home/app/src/" becomes "/<path>/".
	pathPattern = regexp.MustCompile(`(?:/[^/\s():]+)+/`)
)

// NormalizeStack strips deployment-specific detail from a stack trace so the
// same logical origin hashes identically across hosts and builds.
func NormalizeStack(stack string) string {
	if stack == "" {
		return ""
	}

	lines := strings.Split(stack, "\n")
	out := make([]string, 0, MaxFrames)
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		line = goFramePattern.ReplaceAllString(line, ".go:<line>")
		line = parenFramePattern.ReplaceAllString(line, "(<file>:<line>:<col>)")
		line = bareFramePattern.ReplaceAllString(line, "${1}<file>:<line>:<col>")
		line = hexPattern.ReplaceAllString(line, "0x?")
		line = goroutinePattern.ReplaceAllString(line, "goroutine <n>")
		line = pathPattern.ReplaceAllString(line, "/<path>/")

		out = append(out, line)
		if len(out) == MaxFrames {
			break
		}
	}
	return strings.Join(out, "\n")
}

// Hash returns the hex SHA-256 digest of "type:message:stack:component".
func Hash(typ, message, stack, component string) string {
	sum := sha256.Sum256([]byte(typ + ":" + message + ":" + stack + ":" + component))
	return hex.EncodeToString(sum[:])
}

// Compute fingerprints a failure. Missing type, message and component fall
// back to their defaults. An error is returned only when no event id could be
// generated.
func Compute(f domain.Failure, ec domain.ErrorContext) (domain.Fingerprint, error) {
	id, err := uuid.NewRandom()
	if err != nil {
		return domain.Fingerprint{}, fmt.Errorf("failed to generate event id: %w", err)
	}

	fp := domain.Fingerprint{
		EventID:   id.String(),
		Type:      orDefault(f.Type, domain.DefaultFailureType),
		Message:   orDefault(f.Message, domain.DefaultFailureMessage),
		Stack:     NormalizeStack(f.Stack),
		Component: orDefault(ec.Component, domain.DefaultComponent),
	}
	fp.Hash = Hash(fp.Type, fp.Message, fp.Stack, fp.Component)
	return fp, nil
}

func orDefault(v, def string) string {
	if strings.TrimSpace(v) == "" {
		return def
	}
	return v
}
