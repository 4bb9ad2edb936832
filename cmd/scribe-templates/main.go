package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/loqalabs/loqa-scribe/internal/templates"
)

var version = "0.1.0-dev"

func main() {
	var path string
	validateCmd := flag.NewFlagSet("validate", flag.ExitOnError)
	validateCmd.StringVar(&path, "file", "config/macros.json", "Path to templates file (JSON or YAML)")

	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, "expected 'validate' or 'version'")
		os.Exit(2)
	}

	switch os.Args[1] {
	case "validate":
		validateCmd.Parse(os.Args[2:])
		if err := runValidate(os.Stdout, path); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
	case "version":
		fmt.Println(version)
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n", os.Args[1])
		os.Exit(2)
	}
}

// runValidate loads the file strictly and prints each template's fields.
func runValidate(out io.Writer, path string) error {
	store, err := templates.Load(path)
	if err != nil {
		return err
	}
	if store.Len() == 0 {
		return fmt.Errorf("%s defines no templates", path)
	}
	for _, key := range store.Keys() {
		v, err := store.Validate(key)
		if err != nil {
			return err
		}
		note := ""
		if v.FieldCount == 0 {
			note = " (no placeholders)"
		}
		fmt.Fprintf(out, "%s: %d fields%s %s\n", key, v.FieldCount, note, strings.Join(v.Fields, ","))
	}
	fmt.Fprintf(out, "%d templates valid\n", store.Len())
	return nil
}
