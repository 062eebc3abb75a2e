package main

import (
	"context"
	"fmt"
	"io"
	"sort"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/perobal/sismed/internal/domain/medicine"
	"github.com/perobal/sismed/internal/domain/prescription"
	"github.com/perobal/sismed/internal/infrastructure/postgres"
	"github.com/perobal/sismed/internal/printspool"
)

type migrator interface {
	Up(ctx context.Context) (int, error)
	Status(ctx context.Context) ([]postgres.MigrationStatus, error)
}

type topicAdmin interface {
	EnsureTopics(ctx context.Context) error
	ListTopics(ctx context.Context) ([]string, error)
	ConsumerLag(ctx context.Context, groupID string) (map[string]int64, error)
	Close()
}

// runtime holds what the commands operate on.
type runtime struct {
	logger   *zap.Logger
	migrator migrator
	catalog  *medicine.Service
	engine   *prescription.Engine
	topics   func() (topicAdmin, error)
	close    func()
}

type opener func(ctx context.Context) (*runtime, error)

func newRootCmd(open opener, out io.Writer) *cobra.Command {
	root := &cobra.Command{
		Use:          "sismed-admin",
		Short:        "Operator tasks for the clinic prescription backend",
		SilenceUsage: true,
	}
	root.SetOut(out)

	root.AddCommand(migrateCmd(open))
	root.AddCommand(seedCmd(open))
	root.AddCommand(purgeCmd(open))
	root.AddCommand(topicsCmd(open))
	root.AddCommand(lagCmd(open))
	return root
}

// withRuntime opens the runtime for the duration of fn.
func withRuntime(cmd *cobra.Command, open opener, fn func(ctx context.Context, rt *runtime) error) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	rt, err := open(ctx)
	if err != nil {
		return err
	}
	if rt.close != nil {
		defer rt.close()
	}
	if rt.logger == nil {
		rt.logger = zap.NewNop()
	}
	return fn(ctx, rt)
}

func migrateCmd(open opener) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending schema migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			status, _ := cmd.Flags().GetBool("status")
			return withRuntime(cmd, open, func(ctx context.Context, rt *runtime) error {
				if status {
					list, err := rt.migrator.Status(ctx)
					if err := must(rt.logger, err, "read migration status"); err != nil {
						return err
					}
					w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
					fmt.Fprintln(w, "VERSION\tNAME\tAPPLIED")
					for _, m := range list {
						applied := "pending"
						if m.Applied && m.AppliedAt != nil {
							applied = m.AppliedAt.Format("2006-01-02 15:04:05")
						}
						fmt.Fprintf(w, "%03d\t%s\t%s\n", m.Version, m.Name, applied)
					}
					return w.Flush()
				}

				n, err := rt.migrator.Up(ctx)
				if err := must(rt.logger, err, "apply migrations"); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Migrações aplicadas: %d\n", n)
				return nil
			})
		},
	}
	cmd.Flags().Bool("status", false, "List migrations instead of applying them")
	return cmd
}

func seedCmd(open opener) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "seed-medicines",
		Short: "Insert the official medicine catalog",
		RunE: func(cmd *cobra.Command, args []string) error {
			reset, _ := cmd.Flags().GetBool("reset")
			return withRuntime(cmd, open, func(ctx context.Context, rt *runtime) error {
				res, err := rt.catalog.Seed(ctx, medicine.OfficialCatalog, reset)
				if err := must(rt.logger, err, "seed medicines"); err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if reset {
					fmt.Fprintf(out, "Medicamentos removidos: %d\n", res.Removed)
				}
				fmt.Fprintf(out, "Medicamentos inseridos: %d\n", res.Inserted)
				fmt.Fprintf(out, "Medicamentos já existentes: %d\n", res.Existing)
				return nil
			})
		},
	}
	cmd.Flags().Bool("reset", false, "Delete the whole catalog before seeding")
	return cmd
}

func purgeCmd(open opener) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "purge-prescriptions",
		Short: "Delete every prescription, keeping patients and medicines",
		RunE: func(cmd *cobra.Command, args []string) error {
			yes, _ := cmd.Flags().GetBool("yes")
			if !yes {
				return fmt.Errorf("refusing to purge without --yes")
			}
			return withRuntime(cmd, open, func(ctx context.Context, rt *runtime) error {
				n, err := rt.engine.PurgeAll(ctx)
				if err := must(rt.logger, err, "purge prescriptions"); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Receitas removidas: %d\n", n)
				return nil
			})
		},
	}
	cmd.Flags().Bool("yes", false, "Confirm the purge")
	return cmd
}

func topicsCmd(open opener) *cobra.Command {
	return &cobra.Command{
		Use:   "ensure-topics",
		Short: "Create the event and dead letter topics",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd, open, func(ctx context.Context, rt *runtime) error {
				admin, err := rt.topics()
				if err := must(rt.logger, err, "connect to brokers"); err != nil {
					return err
				}
				defer admin.Close()

				if err := must(rt.logger, admin.EnsureTopics(ctx), "create topics"); err != nil {
					return err
				}
				topics, err := admin.ListTopics(ctx)
				if err := must(rt.logger, err, "list topics"); err != nil {
					return err
				}
				for _, t := range topics {
					fmt.Fprintln(cmd.OutOrStdout(), t)
				}
				return nil
			})
		},
	}
}

func lagCmd(open opener) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "consumer-lag",
		Short: "Show how far a consumer group is behind, per topic",
		RunE: func(cmd *cobra.Command, args []string) error {
			group, _ := cmd.Flags().GetString("group")
			return withRuntime(cmd, open, func(ctx context.Context, rt *runtime) error {
				admin, err := rt.topics()
				if err := must(rt.logger, err, "connect to brokers"); err != nil {
					return err
				}
				defer admin.Close()

				lag, err := admin.ConsumerLag(ctx, group)
				if err := must(rt.logger, err, "read consumer lag"); err != nil {
					return err
				}
				topics := make([]string, 0, len(lag))
				for t := range lag {
					topics = append(topics, t)
				}
				sort.Strings(topics)

				w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(w, "TOPIC\tLAG")
				for _, t := range topics {
					fmt.Fprintf(w, "%s\t%d\n", t, lag[t])
				}
				return w.Flush()
			})
		},
	}
	cmd.Flags().String("group", printspool.HandlerName, "Consumer group to inspect")
	return cmd
}
