package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/99minutos/identity-system/internal/core/ports"
	"github.com/99minutos/identity-system/internal/core/service"
	"github.com/99minutos/identity-system/internal/infrastructure/queue"
	"github.com/99minutos/identity-system/pkg/logger"
)

var (
	importFile    string
	importWorkers int
)

// claimRecord is one line of the import file.
type claimRecord struct {
	Email    string  `json:"email"`
	GoogleID string  `json:"googleId"`
	Name     *string `json:"name"`
	Picture  *string `json:"picture"`
}

var importCmd = &cobra.Command{
	Use:   "import",
	Short: "Reconcile a file of identity claims (one JSON object per line)",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		log := logger.With("import")

		in, err := openInput(importFile)
		if err != nil {
			return err
		}
		defer in.Close()

		be, err := openStore(ctx, cfg, logger.Get())
		if err != nil {
			return err
		}
		defer be.close(ctx)

		if err := service.VerifyRoleCatalog(ctx, be.store); err != nil {
			return fmt.Errorf("%w (run seed-roles first)", err)
		}

		d := queue.NewDispatcher(importWorkers, cfg.ConflictRetries,
			service.NewReconciliationService(be.store, logger.With("reconciliation")), log)
		d.Start(ctx)

		readErr := readClaims(in, d.Enqueue)
		summary := d.Close()

		log.Info().
			Int("created", summary.Created).
			Int("updated", summary.Updated).
			Int("unchanged", summary.Unchanged).
			Int("failed", summary.Failed).
			Msg("import finished")

		if readErr != nil {
			return readErr
		}
		if summary.Failed > 0 {
			return fmt.Errorf("%d of %d claims failed", summary.Failed, summary.Total())
		}
		return nil
	},
}

func init() {
	importCmd.Flags().StringVarP(&importFile, "file", "f", "-", "claims file, - for stdin")
	importCmd.Flags().IntVar(&importWorkers, "workers", 8, "number of reconciliation workers")
	rootCmd.AddCommand(importCmd)
}

func openInput(path string) (io.ReadCloser, error) {
	if path == "-" {
		return io.NopCloser(os.Stdin), nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open claims file: %w", err)
	}
	return f, nil
}

// readClaims decodes a stream of JSON claim objects and hands each to emit,
// stopping at the first decode or emit error.
func readClaims(r io.Reader, emit func(ports.IdentityClaim) error) error {
	dec := json.NewDecoder(r)
	for n := 1; ; n++ {
		var rec claimRecord
		if err := dec.Decode(&rec); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("decode claim %d: %w", n, err)
		}
		err := emit(ports.IdentityClaim{
			Email:      rec.Email,
			ExternalID: rec.GoogleID,
			Name:       rec.Name,
			Picture:    rec.Picture,
		})
		if err != nil {
			return fmt.Errorf("enqueue claim %d: %w", n, err)
		}
	}
}
