package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/aretw0/silo"
)

// Note is the entity written and read by the benchmark.
type Note struct {
	ID    int
	Title string `silo:"index"`
	Tag   string
}

func open(path, driver string, logger *slog.Logger) (*silo.Registry, error) {
	return silo.New(map[string]any{
		"entity_manager": map[string]any{
			"connection":      map[string]any{"driver": driver, "path": path},
			"metadataMapping": []any{map[string]any{"type": "attribute"}},
		},
	}, silo.WithEntities(Note{}), silo.WithLogger(logger))
}

func main() {
	count := flag.Int("count", 1000, "Number of notes to generate")
	driver := flag.String("driver", "sqlite", "Database driver (sqlite or sqlite3)")
	keep := flag.Bool("keep", false, "Keep the benchmark database after running")
	flag.Parse()

	benchDir, err := os.MkdirTemp("", "silo_bench_")
	if err != nil {
		panic(err)
	}
	defer func() {
		if !*keep {
			os.RemoveAll(benchDir)
		} else {
			fmt.Printf("Keeping bench dir: %s\n", benchDir)
		}
	}()

	ctx := context.Background()
	dbPath := filepath.Join(benchDir, "bench.db")
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelWarn}))

	reg, err := open(dbPath, *driver, logger)
	if err != nil {
		panic(err)
	}
	app := reg.CLIApplication("")
	app.SetOut(io.Discard)
	app.SetArgs([]string{"orm-entityManager:schema-tool:create"})
	if err := app.ExecuteContext(ctx); err != nil {
		panic(err)
	}

	em, err := reg.Manager(ctx, "entityManager")
	if err != nil {
		panic(err)
	}
	notes, err := silo.RepositoryOf[Note](em)
	if err != nil {
		panic(err)
	}

	fmt.Printf("Persisting %d notes in %s...\n", *count, dbPath)
	startGen := time.Now()
	for i := 0; i < *count; i++ {
		tag := "even"
		if i%2 == 1 {
			tag = "odd"
		}
		if err := notes.Persist(ctx, false, &Note{Title: fmt.Sprintf("Note %d", i), Tag: tag}); err != nil {
			panic(err)
		}
	}
	if err := notes.Flush(ctx); err != nil {
		panic(err)
	}
	generation := time.Since(startGen)
	if err := reg.Close(ctx); err != nil {
		panic(err)
	}

	// Run 1: a fresh manager hydrates every row.
	reg2, err := open(dbPath, *driver, logger)
	if err != nil {
		panic(err)
	}
	defer reg2.Close(ctx)
	em2, err := reg2.Manager(ctx, "entityManager")
	if err != nil {
		panic(err)
	}
	notes2, err := silo.RepositoryOf[Note](em2)
	if err != nil {
		panic(err)
	}

	fmt.Println("Running findByTag (Run 1 - Cold)...")
	start := time.Now()
	list, err := notes2.Call(ctx, "findByTag", "odd")
	if err != nil {
		panic(err)
	}
	cold := time.Since(start)
	fmt.Printf("Run 1 Result: %v (Items: %d)\n", cold, len(list.([]*Note)))

	// Run 2: rows are resolved through the identity map.
	fmt.Println("Running findByTag (Run 2 - Warm)...")
	start = time.Now()
	list2, err := notes2.Call(ctx, "findByTag", "odd")
	if err != nil {
		panic(err)
	}
	warm := time.Since(start)
	fmt.Printf("Run 2 Result: %v (Items: %d)\n", warm, len(list2.([]*Note)))

	fmt.Printf("--------------------------------------------------\n")
	fmt.Printf("Benchmark Result (%d notes, %s):\n", *count, *driver)
	fmt.Printf("  Flush: %v\n", generation)
	fmt.Printf("  Cold:  %v\n", cold)
	fmt.Printf("  Warm:  %v\n", warm)
	fmt.Printf("--------------------------------------------------\n")
}
