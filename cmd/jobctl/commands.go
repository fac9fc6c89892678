package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/cuongbtq/jobqueue/internal/worker/domain"
	"github.com/cuongbtq/jobqueue/shared/redact"
	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

type jobStore interface {
	EnqueueJob(ctx context.Context, job domain.NewJob) (*domain.Job, error)
	GetJob(ctx context.Context, id string) (*domain.Job, error)
	RequeueFailedJob(ctx context.Context, tenantID, id string) (*domain.Job, error)
}

type session struct {
	store              jobStore
	migrate            func() (uint, error)
	defaultMaxAttempts int
	close              func()
}

type opener func(ctx context.Context, configPath string) (*session, error)

func defaultConfigPath() string {
	if p := os.Getenv("WORKER_SERVICE_CONFIG_PATH"); p != "" {
		return p
	}
	return "configs/worker-service/config.yaml"
}

func newRootCmd(open opener) *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:           "jobctl",
		Short:         "Operate the background job queue",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVar(&configPath, "config", defaultConfigPath(), "Path to configuration file")

	withSession := func(cmd *cobra.Command, fn func(s *session) error) error {
		s, err := open(cmd.Context(), configPath)
		if err != nil {
			return err
		}
		defer s.close()
		return fn(s)
	}

	cmd.AddCommand(
		newMigrateCmd(withSession),
		newEnqueueCmd(withSession),
		newGetCmd(withSession, time.Now),
		newRequeueCmd(withSession),
	)
	return cmd
}

type sessionFunc func(cmd *cobra.Command, fn func(s *session) error) error

// jobIDArg accepts exactly one argument that parses as a UUID.
func jobIDArg(cmd *cobra.Command, args []string) error {
	if err := cobra.ExactArgs(1)(cmd, args); err != nil {
		return err
	}
	if _, err := uuid.Parse(args[0]); err != nil {
		return fmt.Errorf("invalid job id %q: %w", args[0], err)
	}
	return nil
}

func newMigrateCmd(withSession sessionFunc) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd, func(s *session) error {
				version, err := s.migrate()
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "Schema at version", version)
				return nil
			})
		},
	}
}

func newEnqueueCmd(withSession sessionFunc) *cobra.Command {
	var (
		tenant      string
		jobType     string
		payload     string
		maxAttempts int
	)

	cmd := &cobra.Command{
		Use:   "enqueue",
		Short: "Add a job to the queue",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := uuid.Parse(tenant); err != nil {
				return fmt.Errorf("invalid tenant id: %w", err)
			}
			if !domain.JobTypePattern.MatchString(jobType) {
				return fmt.Errorf("invalid job type %q: must match %s", jobType, domain.JobTypePattern)
			}

			var fields map[string]any
			if err := json.Unmarshal([]byte(payload), &fields); err != nil {
				return fmt.Errorf("payload must be a JSON object: %w", err)
			}
			if fields == nil {
				fields = map[string]any{}
			}

			raw, err := json.Marshal(redact.Map(fields))
			if err != nil {
				return err
			}

			return withSession(cmd, func(s *session) error {
				attempts := maxAttempts
				if attempts <= 0 {
					attempts = s.defaultMaxAttempts
				}

				job, err := s.store.EnqueueJob(cmd.Context(), domain.NewJob{
					TenantID:    tenant,
					Type:        jobType,
					Payload:     raw,
					MaxAttempts: attempts,
				})
				if err != nil {
					return err
				}

				fmt.Fprintln(cmd.OutOrStdout(), "Job enqueued:", job.ID)
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&tenant, "tenant", "", "Tenant id (UUID)")
	cmd.Flags().StringVar(&jobType, "type", "", "Job type")
	cmd.Flags().StringVar(&payload, "payload", "{}", "Job payload as a JSON object")
	cmd.Flags().IntVar(&maxAttempts, "max-attempts", 0, "Attempt budget (default from config)")
	_ = cmd.MarkFlagRequired("tenant")
	_ = cmd.MarkFlagRequired("type")
	return cmd
}

func newGetCmd(withSession sessionFunc, now func() time.Time) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "get <jobID>",
		Short: "Show a job",
		Args:  jobIDArg,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd, func(s *session) error {
				job, err := s.store.GetJob(cmd.Context(), args[0])
				if err != nil {
					return err
				}

				if asJSON {
					enc := json.NewEncoder(cmd.OutOrStdout())
					enc.SetIndent("", "  ")
					return enc.Encode(job)
				}

				return printJob(cmd.OutOrStdout(), job, now())
			})
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the raw job as JSON")
	return cmd
}

func printJob(out io.Writer, job *domain.Job, now time.Time) error {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)

	fmt.Fprintf(w, "ID:\t%s\n", job.ID)
	fmt.Fprintf(w, "Tenant:\t%s\n", job.TenantID)
	fmt.Fprintf(w, "Type:\t%s\n", job.Type)
	fmt.Fprintf(w, "Status:\t%s\n", job.Status)
	fmt.Fprintf(w, "Attempts:\t%d/%d\n", job.Attempts, job.MaxAttempts)
	fmt.Fprintf(w, "Created:\t%s\n", humanize.RelTime(job.CreatedAt, now, "ago", "from now"))

	if job.WorkerID != nil {
		fmt.Fprintf(w, "Worker:\t%s\n", *job.WorkerID)
	}
	if job.ClaimedAt != nil {
		fmt.Fprintf(w, "Claimed:\t%s\n", humanize.RelTime(*job.ClaimedAt, now, "ago", "from now"))
	}
	if job.CompletedAt != nil {
		fmt.Fprintf(w, "Finished:\t%s\n", humanize.RelTime(*job.CompletedAt, now, "ago", "from now"))
	}
	if job.LastError != nil {
		fmt.Fprintf(w, "Last error:\t%s\n", *job.LastError)
	}
	if len(job.Result) > 0 && string(job.Result) != "null" {
		fmt.Fprintf(w, "Result:\t%s\n", humanize.Bytes(uint64(len(job.Result))))
	}

	return w.Flush()
}

func newRequeueCmd(withSession sessionFunc) *cobra.Command {
	var tenant string

	cmd := &cobra.Command{
		Use:   "requeue <jobID>",
		Short: "Move a failed job back to pending with a fresh attempt budget",
		Args:  jobIDArg,
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := uuid.Parse(tenant); err != nil {
				return fmt.Errorf("invalid tenant id: %w", err)
			}
			return withSession(cmd, func(s *session) error {
				job, err := s.store.RequeueFailedJob(cmd.Context(), tenant, args[0])
				switch {
				case errors.Is(err, domain.ErrJobNotFailed):
					return fmt.Errorf("job %s is not failed", args[0])
				case err != nil:
					return fmt.Errorf("requeue failed: %w", err)
				}

				fmt.Fprintln(cmd.OutOrStdout(), "Job returned to queue:", job.ID)
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&tenant, "tenant", "", "Tenant id owning the job")
	_ = cmd.MarkFlagRequired("tenant")
	return cmd
}
