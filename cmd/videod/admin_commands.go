package main

import (
	"fmt"
	"strconv"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"

	"github.com/tbourn/go-video-backend/internal/domain"
	"github.com/tbourn/go-video-backend/internal/repo"
	"github.com/tbourn/go-video-backend/internal/utils"
)

// withStore opens the configured store for the duration of fn.
func (c *commandContext) withStore(fn func(st *repo.Store) error) error {
	cfg, err := c.ensureConfig()
	if err != nil {
		return err
	}
	st, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer st.Close()
	return fn(st)
}

func newStatusCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show request counts per status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(func(st *repo.Store) error {
				counts, err := st.CountByStatus(cmd.Context())
				if err != nil {
					return err
				}
				var total int64
				rows := make([][]string, 0, len(counts)+1)
				for _, s := range domain.AllStatuses() {
					total += counts[s]
					rows = append(rows, []string{string(s), strconv.FormatInt(counts[s], 10)})
				}
				rows = append(rows, []string{"total", strconv.FormatInt(total, 10)})
				fmt.Fprintln(cmd.OutOrStdout(), renderTable([]string{"Status", "Count"}, rows, []columnAlignment{alignLeft, alignRight}))
				return nil
			})
		},
	}
}

func newListCommand(ctx *commandContext) *cobra.Command {
	var (
		statusFlag string
		limit      int
		offset     int
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List requests, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			statuses, err := parseStatuses(statusFlag)
			if err != nil {
				return err
			}
			return ctx.withStore(func(st *repo.Store) error {
				recs, total, err := st.List(cmd.Context(), repo.ListFilter{Statuses: statuses, Offset: offset, Limit: limit})
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if len(recs) == 0 {
					fmt.Fprintln(out, "No requests")
					return nil
				}
				rows := make([][]string, 0, len(recs))
				for i := range recs {
					r := &recs[i]
					rows = append(rows, []string{
						strconv.FormatUint(r.ID, 10),
						string(r.Status),
						r.ActorID,
						r.Name,
						r.Job(),
						r.URL(),
						r.UpdatedAt.UTC().Format(time.RFC3339),
					})
				}
				headers := []string{"ID", "Status", "Actor", "Name", "Job", "Video URL", "Updated"}
				fmt.Fprintln(out, renderTable(headers, rows, []columnAlignment{alignRight}))
				fmt.Fprintf(out, "%d of %d\n", len(recs), total)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&statusFlag, "status", "", "Comma-separated statuses to include")
	cmd.Flags().IntVar(&limit, "limit", 20, "Maximum rows")
	cmd.Flags().IntVar(&offset, "offset", 0, "Rows to skip")
	return cmd
}

func newRedispatchCommand(ctx *commandContext) *cobra.Command {
	var stuck time.Duration
	cmd := &cobra.Command{
		Use:   "redispatch [id...]",
		Short: "Retry delivery of generated videos",
		Long:  "Retry delivery for the given request ids, or with --stuck for every generated request not updated within the duration.",
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 && stuck <= 0 {
				return errors.New("pass request ids or --stuck")
			}
			ids := make([]uint64, 0, len(args))
			for _, a := range args {
				id, err := utils.ParseID(a)
				if err != nil {
					return err
				}
				ids = append(ids, id)
			}

			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			return ctx.withStore(func(st *repo.Store) error {
				svc := newVideoService(cfg, st)
				out := cmd.OutOrStdout()

				if stuck > 0 {
					sent, failed, err := svc.RedispatchStale(cmd.Context(), stuck)
					if err != nil {
						return err
					}
					fmt.Fprintf(out, "stuck redispatch: %d sent, %d failed\n", sent, failed)
				}

				var failures int
				for _, id := range ids {
					rec, err := svc.Redispatch(cmd.Context(), id)
					switch {
					case err != nil:
						failures++
						fmt.Fprintf(out, "%d: %v\n", id, err)
					default:
						fmt.Fprintf(out, "%d: %s\n", id, rec.Status)
					}
				}
				if failures > 0 {
					return errors.Newf("%d of %d redispatches failed", failures, len(ids))
				}
				return nil
			})
		},
	}
	cmd.Flags().DurationVar(&stuck, "stuck", 0, "Redispatch generated requests idle for at least this long")
	return cmd
}

func parseStatuses(csv string) ([]domain.Status, error) {
	parts := utils.SplitCSV(csv)
	out := make([]domain.Status, 0, len(parts))
	for _, p := range parts {
		s, err := domain.ParseStatus(p)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}
