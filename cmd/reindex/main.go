package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/joho/godotenv"
	"github.com/tendant/simple-media/pkg/simplemedia/config"
	"github.com/tendant/simple-media/pkg/simplemedia/tenant"
)

const usage = `Simple Media Reindex CLI

Rebuilds derived indexes (asset ordering, tag counters, collection
membership, search words) from the stored asset and collection records,
dropping references to collections or assets that no longer exist.
Stop writers for the affected tenants first.

USAGE:
  reindex <command> [options]

COMMANDS:
  run       Rebuild indexes for the selected tenants
  tags      Print tag usage for the selected tenants
  storage   Print blob usage for the selected tenants

OPTIONS:
  --tenant=<id>[,<id>...]   Tenants to process (default: DEFAULT_TENANT)
  --json                    Output as JSON

  Configuration is read from the same environment variables as the server
  and can be loaded from a .env file in the current directory.
`

type options struct {
	tenants []string
	json    bool
}

func main() {
	// Load .env file if it exists (silently ignore if not found)
	_ = godotenv.Load()

	if len(os.Args) < 2 {
		fmt.Print(usage)
		os.Exit(1)
	}

	command := os.Args[1]
	if command == "help" || command == "--help" || command == "-h" {
		fmt.Print(usage)
		os.Exit(0)
	}

	cfg, err := config.Load(config.WithEnv())
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	opts := parseOptions(os.Args[2:], cfg.Tenants.DefaultTenant)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Minute)
	defer cancel()

	registry, err := cfg.BuildRegistry(ctx, nil)
	if err != nil {
		log.Fatalf("Failed to build tenant registry: %v", err)
	}
	defer registry.Close()

	switch command {
	case "run":
		err = handleRun(ctx, registry, opts)
	case "tags":
		err = handleTags(ctx, registry, opts)
	case "storage":
		err = handleStorage(ctx, registry, opts)
	default:
		fmt.Printf("Unknown command: %s\n\n", command)
		fmt.Print(usage)
		os.Exit(1)
	}
	if err != nil {
		log.Fatalf("%s failed: %v", command, err)
	}
}

func parseOptions(args []string, defaultTenant string) options {
	opts := options{}
	for _, arg := range args {
		if arg == "--json" {
			opts.json = true
			continue
		}
		key, value, _ := strings.Cut(strings.TrimPrefix(arg, "--"), "=")
		if key == "tenant" {
			for _, id := range strings.Split(value, ",") {
				if id = strings.TrimSpace(id); id != "" {
					opts.tenants = append(opts.tenants, id)
				}
			}
		}
	}
	if len(opts.tenants) == 0 {
		opts.tenants = []string{defaultTenant}
	}
	return opts
}

func handleRun(ctx context.Context, registry *tenant.Registry, opts options) error {
	type row struct {
		Tenant      string `json:"tenant"`
		Assets      int    `json:"assets"`
		Collections int    `json:"collections"`
		Tags        int    `json:"tags"`
		Words       int    `json:"words"`
		Repaired    int    `json:"repaired"`
	}
	var rows []row
	for _, id := range opts.tenants {
		h, err := registry.Handles(ctx, id)
		if err != nil {
			return fmt.Errorf("tenant %s: %w", id, err)
		}
		result, err := h.Store.Reindex(ctx)
		if err != nil {
			return fmt.Errorf("tenant %s: %w", id, err)
		}
		rows = append(rows, row{id, result.Assets, result.Collections, result.Tags, result.Words, result.Repaired})
	}

	if opts.json {
		return printJSON(rows)
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "TENANT\tASSETS\tCOLLECTIONS\tTAGS\tWORDS\tREPAIRED")
	for _, r := range rows {
		fmt.Fprintf(w, "%s\t%d\t%d\t%d\t%d\t%d\n", r.Tenant, r.Assets, r.Collections, r.Tags, r.Words, r.Repaired)
	}
	return w.Flush()
}

func handleTags(ctx context.Context, registry *tenant.Registry, opts options) error {
	out := make(map[string]any, len(opts.tenants))
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	if !opts.json {
		fmt.Fprintln(w, "TENANT\tTAG\tCOUNT")
	}
	for _, id := range opts.tenants {
		h, err := registry.Handles(ctx, id)
		if err != nil {
			return fmt.Errorf("tenant %s: %w", id, err)
		}
		tags, err := h.Store.GetAllTags(ctx)
		if err != nil {
			return fmt.Errorf("tenant %s: %w", id, err)
		}
		out[id] = tags
		for _, t := range tags {
			fmt.Fprintf(w, "%s\t%s\t%d\n", id, t.Tag, t.Count)
		}
	}
	if opts.json {
		return printJSON(out)
	}
	return w.Flush()
}

func handleStorage(ctx context.Context, registry *tenant.Registry, opts options) error {
	out := make(map[string]any, len(opts.tenants))
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	if !opts.json {
		fmt.Fprintln(w, "TENANT\tCATEGORY\tOBJECTS\tBYTES")
	}
	for _, id := range opts.tenants {
		h, err := registry.Handles(ctx, id)
		if err != nil {
			return fmt.Errorf("tenant %s: %w", id, err)
		}
		usage, err := h.Blobs.Usage(ctx, h.Keys.Prefix())
		if err != nil {
			return fmt.Errorf("tenant %s: %w", id, err)
		}
		out[id] = usage
		for category, u := range usage.Categories {
			fmt.Fprintf(w, "%s\t%s\t%d\t%d\n", id, category, u.Objects, u.Bytes)
		}
		fmt.Fprintf(w, "%s\t%s\t%d\t%d\n", id, "total", usage.TotalObjects, usage.TotalBytes)
	}
	if opts.json {
		return printJSON(out)
	}
	return w.Flush()
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
