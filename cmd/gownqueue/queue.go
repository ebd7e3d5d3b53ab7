package main

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"gownqueue/internal/core"
	"gownqueue/pkg/domain"
)

func (a *app) enqueueCmd() *cobra.Command {
	var description, gownID, size string
	cmd := &cobra.Command{
		Use:   "enqueue <entity-id> <type>",
		Short: "Queue an operation without contacting the booking system",
		Long: `Queue an operation for later replay. Types: CHECK_OUT_GOWN, CHECK_IN_GOWN,
UNDO_CHECK_OUT, UNDO_CHECK_IN, CHANGE_GOWN (requires --gown-id).`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			svc, closeAll, err := a.openService(ctx, core.WithInitialOnline(false))
			if err != nil {
				return err
			}
			defer closeAll()
			req := domain.EnqueueRequest{
				EntityID:    args[0],
				Type:        domain.OperationType(args[1]),
				Description: description,
			}
			if gownID != "" {
				req.Change = &domain.GownChange{GownID: gownID, Size: size}
			}
			id, err := svc.Enqueue(ctx, req)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), id)
			return err
		},
	}
	cmd.Flags().StringVar(&description, "description", "", "note shown alongside the pending operation")
	cmd.Flags().StringVar(&gownID, "gown-id", "", "replacement gown for CHANGE_GOWN")
	cmd.Flags().StringVar(&size, "size", "", "replacement gown size for CHANGE_GOWN")
	return cmd
}

func (a *app) statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status <entity-id>",
		Short: "Show the effective status of a booking",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, closeAll, err := a.openService(cmd.Context())
			if err != nil {
				return err
			}
			defer closeAll()
			st, err := svc.EffectiveStatus(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), st)
		},
	}
}

func (a *app) listCmd() *cobra.Command {
	var entityID, state string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List queued operations in enqueue order",
		RunE: func(cmd *cobra.Command, _ []string) error {
			svc, closeAll, err := a.openService(cmd.Context(), core.WithInitialOnline(false))
			if err != nil {
				return err
			}
			defer closeAll()
			ops := svc.Operations(entityID, domain.OperationState(state))
			if ops == nil {
				ops = []domain.Operation{}
			}
			return printJSON(cmd.OutOrStdout(), ops)
		},
	}
	cmd.Flags().StringVar(&entityID, "entity", "", "only operations for this booking")
	cmd.Flags().StringVar(&state, "state", "", "only operations in this state (pending, applying, errored)")
	return cmd
}

func (a *app) replayCmd() *cobra.Command {
	var wait time.Duration
	cmd := &cobra.Command{
		Use:   "replay",
		Short: "Replay pending operations against the booking system",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			svc, closeAll, err := a.openService(ctx, core.WithInitialOnline(true))
			if err != nil {
				return err
			}
			// closing waits for a drain that outlived --wait
			defer closeAll()
			report, completed, err := svc.Replay(ctx, wait)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), struct {
				Completed bool     `json:"completed"`
				Applied   int      `json:"applied"`
				Errored   int      `json:"errored"`
				Blocked   []string `json:"blocked,omitempty"`
			}{completed, report.Applied, report.Errored, report.Blocked})
		},
	}
	cmd.Flags().DurationVar(&wait, "wait", 0, "return after this long while replay continues (default from GOWNQUEUE_OPTIMISTIC_TIMEOUT)")
	return cmd
}

func (a *app) retryCmd() *cobra.Command {
	return a.operationCmd("retry <operation-id>", "Return an errored operation to pending",
		func(ctx context.Context, svc *core.Service, id string) (domain.Operation, error) {
			return svc.Retry(ctx, id)
		})
}

func (a *app) discardCmd() *cobra.Command {
	return a.operationCmd("discard <operation-id>", "Drop an errored operation",
		func(ctx context.Context, svc *core.Service, id string) (domain.Operation, error) {
			return svc.Discard(ctx, id)
		})
}

func (a *app) operationCmd(use, short string, fn func(context.Context, *core.Service, string) (domain.Operation, error)) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, closeAll, err := a.openService(cmd.Context(), core.WithInitialOnline(false))
			if err != nil {
				return err
			}
			defer closeAll()
			op, err := fn(cmd.Context(), svc, args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), op)
		},
	}
}

func (a *app) exportCmd() *cobra.Command {
	var (
		list        bool
		get, remove string
	)
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write the queue as CSV and JSON to blob storage",
		Long: `Write the queue as CSV and JSON to blob storage. --list shows previous
exports, --get <name> copies one to stdout and --delete <name> removes it.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			svc, closeAll, err := a.openService(cmd.Context(), core.WithInitialOnline(false))
			if err != nil {
				return err
			}
			defer closeAll()
			switch {
			case list:
				infos, err := svc.Exports(cmd.Context())
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), infos)
			case get != "":
				_, rc, err := svc.OpenExport(cmd.Context(), get)
				if err != nil {
					return err
				}
				defer rc.Close()
				_, err = io.Copy(cmd.OutOrStdout(), rc)
				return err
			case remove != "":
				if err := svc.DeleteExport(cmd.Context(), remove); err != nil {
					return err
				}
				_, err = fmt.Fprintf(cmd.OutOrStdout(), "deleted %s\n", remove)
				return err
			}
			res, err := svc.Export(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), res)
		},
	}
	cmd.Flags().BoolVar(&list, "list", false, "list previous exports instead of writing one")
	cmd.Flags().StringVar(&get, "get", "", "write the named export to stdout")
	cmd.Flags().StringVar(&remove, "delete", "", "delete the named export")
	cmd.MarkFlagsMutuallyExclusive("list", "get", "delete")
	return cmd
}
