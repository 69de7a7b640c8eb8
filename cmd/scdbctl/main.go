package main

import (
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/scdb-go/scdb/internal/logging"
	"github.com/scdb-go/scdb/internal/provider"
	"github.com/scdb-go/scdb/internal/vacuum"
)

func main() {
	dbPath := flag.String("db", "", "path to the .scdb file (created if missing)")
	put := flag.String("put", "", "write stdin to the named block")
	get := flag.String("get", "", "print the named block's bytes to stdout")
	del := flag.String("delete", "", "delete the named block")
	list := flag.Bool("list", false, "list every live block name")
	stats := flag.Bool("stats", false, "print allocation, WAL, and cache statistics")
	vacuumMode := flag.String("vacuum", "", "run a reclamation pass: quick, incremental, or full")
	pageSize := flag.Uint("page-size", 0, "page size in bytes (0 means 4096); must match the file's page size when reopening")
	mmap := flag.Bool("mmap", false, "enable zero-copy reads via memory mapping")
	flag.Parse()

	logger, closeFn := logging.Default()
	defer closeFn()
	slog.SetDefault(logger)

	if *dbPath == "" {
		fmt.Fprintln(os.Stderr, "scdbctl: -db is required")
		os.Exit(2)
	}

	p, err := provider.Open(*dbPath, provider.Options{
		PageSize:            uint32(*pageSize),
		EnableMemoryMapping: *mmap,
		Logger:              logger,
	})
	if err != nil {
		logger.Error("failed to open database", "path", *dbPath, "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := p.Close(); err != nil {
			logger.Error("failed to close database cleanly", "error", err)
		}
	}()

	if *put != "" {
		data, err := io.ReadAll(os.Stdin)
		if err != nil {
			logger.Error("failed to read stdin", "error", err)
			os.Exit(1)
		}
		if err := p.WriteBlock(*put, data); err != nil {
			logger.Error("failed to write block", "name", *put, "error", err)
			os.Exit(1)
		}
	}

	if *get != "" {
		data, ok, err := p.ReadBlock(*get)
		if err != nil {
			logger.Error("failed to read block", "name", *get, "error", err)
			os.Exit(1)
		}
		if !ok {
			fmt.Fprintf(os.Stderr, "scdbctl: block %q not found\n", *get)
			os.Exit(1)
		}
		os.Stdout.Write(data)
	}

	if *del != "" {
		if err := p.DeleteBlock(*del); err != nil {
			logger.Error("failed to delete block", "name", *del, "error", err)
			os.Exit(1)
		}
	}

	if *list {
		for _, name := range p.EnumerateBlocks() {
			fmt.Println(name)
		}
	}

	if *vacuumMode != "" {
		mode, err := parseVacuumMode(*vacuumMode)
		if err != nil {
			fmt.Fprintln(os.Stderr, "scdbctl:", err)
			os.Exit(2)
		}
		report, err := p.Vacuum(mode)
		if err != nil {
			logger.Error("vacuum failed", "mode", mode, "error", err)
			os.Exit(1)
		}
		fmt.Printf("vacuum %s: reclaimed=%d moved=%d deleted=%d frag %.1f%% -> %.1f%% (%s)\n",
			report.Mode, report.BytesReclaimed, report.BlocksMoved, report.BlocksDeleted,
			report.FragBefore, report.FragAfter, report.Duration)
	}

	if *stats {
		s := p.GetStatistics()
		fmt.Printf("blocks=%d total_pages=%d free_pages=%d used_pages=%d frag=%.2f%%\n",
			s.BlockCount, s.TotalPages, s.FreePages, s.UsedPages, s.FragmentationPct)
		fmt.Printf("wal_records=%d current_lsn=%d last_checkpoint=%d\n",
			s.WALRecordCount, s.CurrentLSN, s.LastCheckpoint)
		fmt.Printf("cache_hits=%d cache_misses=%d cache_evictions=%d\n",
			s.CacheHits, s.CacheMisses, s.CacheEvictions)
	}
}

func parseVacuumMode(s string) (vacuum.Mode, error) {
	switch s {
	case "quick":
		return vacuum.ModeQuick, nil
	case "incremental":
		return vacuum.ModeIncremental, nil
	case "full":
		return vacuum.ModeFull, nil
	default:
		return 0, fmt.Errorf("unknown vacuum mode %q (want quick, incremental, or full)", s)
	}
}
