package inventory

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/unicode/norm"

	"github.com/odyssey-erp/stockroom/internal/shared"
)

var categoryPrefixes = map[Category]string{
	CategoryConsumable:       "VT",
	CategoryElectricTool:     "DC-D",
	CategoryMechanicalTool:   "DC-CK",
	CategoryElectricDevice:   "TB-D",
	CategoryMechanicalDevice: "TB-CK",
	CategorySparePart:        "LK",
	CategoryProtectiveGear:   "BHLD",
}

// FallbackPrefix is used for categories missing from the prefix table.
const FallbackPrefix = "GEN"

const (
	maxCodeLength = 32
	// collisionSlack allows for codes inserted by other writers after the scan.
	collisionSlack = 8
	scanTimeout    = 10 * time.Second
)

// PrefixFor returns the code prefix of a category.
func PrefixFor(c Category) string {
	if prefix, ok := categoryPrefixes[c]; ok {
		return prefix
	}
	return FallbackPrefix
}

// FormatCode renders prefix-NNNN.
func FormatCode(prefix string, n int) string {
	return fmt.Sprintf("%s-%04d", prefix, n)
}

// NormalizeCode trims, NFC-normalises and upper-cases a manually supplied code.
func NormalizeCode(code string) string {
	return cases.Upper(language.Und).String(norm.NFC.String(strings.TrimSpace(code)))
}

// CodeLookup is the part of the repository the allocator reads.
type CodeLookup interface {
	ListCodesByPrefix(ctx context.Context, prefix string) ([]string, error)
	CodeExists(ctx context.Context, code string) (bool, error)
}

// CodeAllocator issues unique item codes per category.
type CodeAllocator struct {
	lookup CodeLookup
	seq    SequenceStore
	scans  singleflight.Group
}

// NewCodeAllocator builds an allocator. A nil seq uses an in-process counter.
func NewCodeAllocator(lookup CodeLookup, seq SequenceStore) *CodeAllocator {
	if seq == nil {
		seq = NewMemorySequence()
	}
	return &CodeAllocator{lookup: lookup, seq: seq}
}

type scanResult struct {
	max   int
	count int
}

// Allocate returns the next free code for category. Candidates that turn out
// to be taken raise the floor and the loop tries again; it gives up with
// shared.ErrAllocationExhausted once every code seen by the scan (plus a small
// slack) has been stepped over.
func (a *CodeAllocator) Allocate(ctx context.Context, category Category) (string, error) {
	prefix := PrefixFor(category)
	scan, err := a.scan(ctx, prefix)
	if err != nil {
		return "", err
	}
	floor := scan.max
	attempts := scan.count + collisionSlack
	for i := 0; i < attempts; i++ {
		n, err := a.seq.Next(ctx, prefix, floor)
		if err != nil {
			return "", fmt.Errorf("inventory: sequence %s: %w", prefix, err)
		}
		code := FormatCode(prefix, n)
		taken, err := a.lookup.CodeExists(ctx, code)
		if err != nil {
			return "", err
		}
		if !taken {
			return code, nil
		}
		floor = n
	}
	return "", fmt.Errorf("inventory: prefix %s after %d attempts: %w", prefix, attempts, shared.ErrAllocationExhausted)
}

// CheckManual normalises a caller-supplied code and verifies it is free.
func (a *CodeAllocator) CheckManual(ctx context.Context, code string) (string, error) {
	code = NormalizeCode(code)
	if code == "" {
		return "", validationError("code required")
	}
	if len(code) > maxCodeLength {
		return "", validationError("code too long")
	}
	taken, err := a.lookup.CodeExists(ctx, code)
	if err != nil {
		return "", err
	}
	if taken {
		return "", fmt.Errorf("inventory: code %s: %w", code, shared.ErrDuplicateCode)
	}
	return code, nil
}

// scan finds the highest numeric suffix in use for prefix. Concurrent callers
// for one prefix share a single repository scan. The shared scan is detached
// from any one caller's cancellation and bounded by scanTimeout; each caller
// still stops waiting when its own ctx ends.
func (a *CodeAllocator) scan(ctx context.Context, prefix string) (scanResult, error) {
	ch := a.scans.DoChan(prefix, func() (interface{}, error) {
		scanCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), scanTimeout)
		defer cancel()
		codes, err := a.lookup.ListCodesByPrefix(scanCtx, prefix)
		if err != nil {
			return scanResult{}, err
		}
		res := scanResult{count: len(codes)}
		for _, code := range codes {
			if n, ok := parseSuffix(prefix, code); ok && n > res.max {
				res.max = n
			}
		}
		return res, nil
	})
	select {
	case <-ctx.Done():
		return scanResult{}, fmt.Errorf("inventory: scan codes %s: %w", prefix, ctx.Err())
	case r := <-ch:
		if r.Err != nil {
			return scanResult{}, fmt.Errorf("inventory: scan codes %s: %w", prefix, r.Err)
		}
		return r.Val.(scanResult), nil
	}
}

func parseSuffix(prefix, code string) (int, bool) {
	rest, ok := strings.CutPrefix(code, prefix+"-")
	if !ok || rest == "" {
		return 0, false
	}
	for _, r := range rest {
		if r < '0' || r > '9' {
			return 0, false
		}
	}
	n, err := strconv.Atoi(rest)
	if err != nil {
		return 0, false
	}
	return n, true
}
