package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"member-tenure/internal/app"
	"member-tenure/internal/domain/tenure"
	"member-tenure/internal/platform/logger"

	"github.com/spf13/cobra"
)

type loader func(ctx context.Context) (*app.App, error)

const shutdownTimeout = 15 * time.Second

func serveCmd(load loader) *cobra.Command {
	var noWorkers bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP triggers, the workers and the daily schedule",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := load(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.CheckSettings(ctx); err != nil {
				return fmt.Errorf("startup check: %w", err)
			}

			return runServer(ctx, a, noWorkers)
		},
	}
	cmd.Flags().BoolVar(&noWorkers, "no-workers", false, "only serve HTTP (workers run elsewhere)")
	return cmd
}

func workCmd(load loader) *cobra.Command {
	return &cobra.Command{
		Use:   "work",
		Short: "Run only the queue workers",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := load(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.CheckSettings(ctx); err != nil {
				return fmt.Errorf("startup check: %w", err)
			}

			// si el pool termina solo, el watch tiene que terminar también
			ctx, stop := context.WithCancel(ctx)
			defer stop()

			var wg sync.WaitGroup
			background(ctx, &wg, a.Log, "settings watch", a.WatchSettings)
			err = a.Pool().Run(ctx)
			stop()
			wg.Wait()
			return err
		},
	}
}

// runServer levanta HTTP y las tareas de fondo hasta que parent termina o el
// server falla. En ambos casos cancela las tareas de fondo antes de esperarlas.
func runServer(parent context.Context, a *app.App, noWorkers bool) error {
	ctx, stop := context.WithCancel(parent)
	defer stop()

	var wg sync.WaitGroup
	background(ctx, &wg, a.Log, "settings watch", a.WatchSettings)
	if !noWorkers {
		background(ctx, &wg, a.Log, "worker pool", a.Pool().Run)
	}
	if a.Config.Schedule.Enabled {
		background(ctx, &wg, a.Log, "daily schedule", a.RunSchedule)
	}

	srv := &http.Server{
		Addr:         a.Config.HTTP.Addr,
		Handler:      a.Router(),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 60 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		a.Log.Info("http server listening", map[string]any{"addr": srv.Addr})
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	var err error
	select {
	case <-ctx.Done():
	case err = <-errCh:
		a.Log.Error("http server stopped", logger.Err(err))
	}

	a.Log.Info("shutting down", nil)
	stop()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
	wg.Wait()
	return err
}

// background corre fn en una goroutine y loguea si termina con error.
func background(ctx context.Context, wg *sync.WaitGroup, log logger.Logger, name string, fn func(context.Context) error) {
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := fn(ctx); err != nil && ctx.Err() == nil {
			log.Error(name+" stopped", logger.Err(err))
		}
	}()
}

func dispatchCmd(load loader) *cobra.Command {
	return &cobra.Command{
		Use:   "dispatch",
		Short: "Enqueue one task per member with a consecutive member type",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := load(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			n, err := a.Tenure.Dispatch(ctx, a.Queue)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "enqueued %d members\n", n)
			return nil
		},
	}
}

func lapsedCmd(load loader) *cobra.Command {
	return &cobra.Command{
		Use:   "lapsed",
		Short: "Enqueue conversion to non-member for the lapsed members query",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := load(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			n, err := a.Lapsed.Dispatch(ctx, a.Queue)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "enqueued %d lapsed members\n", n)
			return nil
		},
	}
}

func memberCmd(load loader) *cobra.Command {
	var origJoin string

	cmd := &cobra.Command{
		Use:   "member [id]",
		Short: "Process one member inline (infer and write)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := load(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			task := tenure.MemberTask{ID: tenure.MemberID(args[0])}
			if cmd.Flags().Changed("origjoin") {
				task.OrigJoin = &origJoin
			}
			rep, err := a.Tenure.ProcessMember(ctx, task)
			if err != nil {
				return err
			}
			return printJSON(cmd, map[string]any{
				"member_id":          rep.MemberID,
				"outcome":            rep.Write.Outcome,
				"since":              rep.Write.Value,
				"join_date_repaired": rep.Write.JoinDateRepaired,
			})
		},
	}
	cmd.Flags().StringVar(&origJoin, "origjoin", "", "original join date (default: read from the member)")
	return cmd
}

func previewCmd(load loader) *cobra.Command {
	return &cobra.Command{
		Use:   "preview [id]",
		Short: "Show the inferred consecutive-since date without writing",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := load(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			res, err := a.Tenure.Preview(ctx, args[0])
			if err != nil {
				return err
			}
			out := map[string]any{
				"member_id": args[0],
				"resolved":  res.Resolved,
				"broken":    res.Broken,
			}
			if res.Resolved {
				out["since"] = tenure.FormatCRMDate(res.Since)
			}
			if res.CorrectedJoinDate != nil {
				out["corrected_join_date"] = tenure.FormatCRMDate(*res.CorrectedJoinDate)
			}
			if res.StoppedAt != nil {
				out["stopped_at"] = res.StoppedAt
			}
			if res.JoinMarker != nil {
				out["join_marker"] = res.JoinMarker
			}
			return printJSON(cmd, out)
		},
	}
}

func checkSettingsCmd(load loader) *cobra.Command {
	return &cobra.Command{
		Use:   "check-settings",
		Short: "Resolve settings and check the since record type in the CRM",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := load(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.CheckSettings(ctx); err != nil {
				return err
			}
			st, err := a.Settings.Current(ctx)
			if err != nil {
				return err
			}
			return printJSON(cmd, map[string]any{
				"consecutive_types": st.Codes(),
				"non_member_code":   st.NonMemberCode,
				"max_lapse_days":    int(st.MaxLapse.Hours() / 24),
				"grace_periods":     len(st.GracePeriods),
				"exceptions":        len(st.Exceptions),
				"since_record":      st.SinceRecord.Type + "." + st.SinceRecord.Property,
			})
		},
	}
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
