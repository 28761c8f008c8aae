package database

import (
	"context"
	"os"

	"github.com/semmidev/strongbox/internal/domain"
)

// Strategy is one way of producing a dump file.
type Strategy interface {
	Dump(ctx context.Context, destination string, sink domain.ProgressSink) ([]string, error)
}

// Dumper tries the primary strategy and falls back to the second one, and
// records which of the two produced the dump.
type Dumper struct {
	primary  Strategy
	fallback Strategy
}

func NewDumper(primary, fallback Strategy) *Dumper {
	return &Dumper{primary: primary, fallback: fallback}
}

func (d *Dumper) Dump(ctx context.Context, destination string, sink domain.ProgressSink) (domain.DumpResult, error) {
	if sink == nil {
		sink = domain.NopSink{}
	}

	warnings, primaryErr := d.primary.Dump(ctx, destination, sink)
	if primaryErr == nil {
		return domain.DumpResult{Method: domain.DumpPrimary, Warnings: warnings}, nil
	}

	if err := ctx.Err(); err != nil {
		os.Remove(destination)
		return domain.DumpResult{}, &domain.DumpError{Primary: primaryErr, Fallback: err}
	}

	warnings, fallbackErr := d.fallback.Dump(ctx, destination, sink)
	if fallbackErr != nil {
		os.Remove(destination)
		return domain.DumpResult{}, &domain.DumpError{Primary: primaryErr, Fallback: fallbackErr}
	}

	return domain.DumpResult{
		Method:       domain.DumpFallback,
		Warnings:     warnings,
		PrimaryError: primaryErr.Error(),
	}, nil
}
