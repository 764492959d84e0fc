package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/goliatone/go-formflow/pkg/definition"
	"github.com/goliatone/go-formflow/pkg/openapi"
	"github.com/goliatone/go-formflow/pkg/step"
	"github.com/goliatone/go-formflow/pkg/visibility"
)

type violation struct {
	file     string
	location string
	message  string
}

func main() {
	flag.Usage = func() {
		out := flag.CommandLine.Output()
		fmt.Fprintf(out, "Usage: %s [paths...]\n", filepath.Base(os.Args[0]))
		fmt.Fprintf(out, "\nLint flow definition directories and OpenAPI documents carrying x-formflow extensions.\n")
	}
	flag.Parse()

	paths := flag.Args()
	if len(paths) == 0 {
		flag.Usage()
		os.Exit(2)
	}

	ctx := context.Background()
	checker, _ := step.DefaultEvaluator().(visibility.Checker)

	var violations []violation
	for _, path := range paths {
		linted, err := lintPath(ctx, path, checker)
		if err != nil {
			fmt.Fprintf(os.Stderr, "lint %s: %v\n", path, err)
			os.Exit(1)
		}
		violations = append(violations, linted...)
	}

	if len(violations) > 0 {
		sort.Slice(violations, func(i, j int) bool {
			if violations[i].file == violations[j].file {
				if violations[i].location == violations[j].location {
					return violations[i].message < violations[j].message
				}
				return violations[i].location < violations[j].location
			}
			return violations[i].file < violations[j].file
		})
		for _, v := range violations {
			fmt.Fprintf(os.Stderr, "%s: %s -> %s\n", v.file, v.location, v.message)
		}
		os.Exit(1)
	}
}

func lintPath(ctx context.Context, path string, checker visibility.Checker) ([]violation, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if info.IsDir() {
		return lintDefinitions(ctx, path)
	}
	return lintDocument(ctx, path, checker)
}

// lintDefinitions loads every flow under dir and derives its steps, which
// catches unknown kinds, malformed options and bad visibility rules.
func lintDefinitions(ctx context.Context, dir string) ([]violation, error) {
	store, err := definition.LoadFS(os.DirFS(dir))
	if err != nil {
		return []violation{{file: dir, location: "definitions", message: err.Error()}}, nil
	}

	var result []violation
	for _, id := range store.IDs() {
		flow, _ := store.Flow(id)
		snap, err := flow.Snapshot(ctx)
		if err != nil {
			return nil, err
		}
		file := filepath.Join(dir, flow.Source)
		if _, err := step.Derive(snap.Fields, snap.DeriveOptions()...); err != nil {
			result = append(result, violation{
				file:     file,
				location: strings.Join([]string{"flow", id}, "."),
				message:  err.Error(),
			})
		}
	}
	return result, nil
}

func lintDocument(ctx context.Context, path string, checker visibility.Checker) ([]violation, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read file: %w", err)
	}
	findings, err := openapi.Lint(ctx, raw, checker)
	if err != nil {
		return nil, err
	}
	result := make([]violation, 0, len(findings))
	for _, f := range findings {
		result = append(result, violation{file: path, location: f.Location, message: f.Message})
	}
	return result, nil
}
