package main

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"eventhub/internal/app"
	"eventhub/internal/filter"
	"eventhub/internal/gateway"
	"eventhub/internal/ics"
	appLog "eventhub/internal/log"
	"eventhub/internal/scheduler"
	"eventhub/internal/web"
)

func newListCommand(c *cli) *cobra.Command {
	var (
		query    string
		bucket   string
		now      string
		featured bool
		asJSON   bool
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List events, newest first",
		Long: "List events matching a title query and a date bucket.\n" +
			"Buckets: " + bucketNames() + ".",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			if featured {
				events, err := c.rt.app.Featured(ctx)
				if err != nil {
					return err
				}
				return printEvents(cmd.OutOrStdout(), events, c.rt.loc, asJSON)
			}

			q := filter.Query{Text: query, Bucket: filter.ParseBucket(bucket)}
			if now != "" {
				q.Now = gateway.ParseTimestamp(now, c.rt.loc)
				if q.Now.IsZero() {
					return fmt.Errorf("--now %q is not a valid timestamp", now)
				}
			} else {
				q.Now = time.Now().In(c.rt.loc)
			}

			if _, err := c.rt.app.Refresh(ctx); err != nil {
				return err
			}
			events, err := c.rt.app.Events(q)
			if err != nil {
				return err
			}
			return printEvents(cmd.OutOrStdout(), events, c.rt.loc, asJSON)
		},
	}
	cmd.Flags().StringVarP(&query, "query", "q", "", "Case-insensitive title filter")
	cmd.Flags().StringVarP(&bucket, "bucket", "b", string(filter.All), "Date bucket")
	cmd.Flags().StringVar(&now, "now", "", "Reference instant for the buckets (default: current time)")
	cmd.Flags().BoolVar(&featured, "featured", false, "List featured events instead (no sign-in needed)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print JSON")
	return cmd
}

func newShowCommand(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "show <event-id>",
		Short: "Show one event",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := c.rt.app.Refresh(cmd.Context()); err != nil {
				return err
			}
			ev, err := c.rt.app.Event(args[0])
			if err != nil {
				return err
			}
			printEventDetail(cmd.OutOrStdout(), ev, c.rt.loc)
			return nil
		},
	}
}

func newMineCommand(c *cli) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "mine",
		Short: "List the events you organize",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			events, err := c.rt.app.MyEvents(cmd.Context())
			if err != nil {
				return err
			}
			return printEvents(cmd.OutOrStdout(), events, c.rt.loc, asJSON)
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print JSON")
	return cmd
}

func eventFormFlags(cmd *cobra.Command, form *app.EventForm) {
	cmd.Flags().StringVar(&form.Title, "title", "", "Event title (max 100 characters)")
	cmd.Flags().StringVar(&form.When, "when", "", "Date and time, e.g. 2024-12-20T18:00")
	cmd.Flags().StringVar(&form.Location, "location", "", "Where it happens")
	cmd.Flags().StringVar(&form.Description, "description", "", "What it is about")
	cmd.Flags().IntVar(&form.AttendeeCount, "attendees", 0, "Initial attendee count")
}

func newCreateCommand(c *cli) *cobra.Command {
	var form app.EventForm
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create an event organized by you",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			msg, err := c.rt.app.Create(cmd.Context(), form)
			if err != nil {
				return err
			}
			printMessage(cmd.OutOrStdout(), msg, "Event created")
			return nil
		},
	}
	eventFormFlags(cmd, &form)
	return cmd
}

func newUpdateCommand(c *cli) *cobra.Command {
	var form app.EventForm
	cmd := &cobra.Command{
		Use:   "update <event-id>",
		Short: "Replace the details of an event",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			msg, err := c.rt.app.Update(cmd.Context(), args[0], form)
			if err != nil {
				return err
			}
			printMessage(cmd.OutOrStdout(), msg, "Event updated")
			return nil
		},
	}
	eventFormFlags(cmd, &form)
	return cmd
}

func newDeleteCommand(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <event-id>",
		Short: "Delete an event",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			msg, err := c.rt.app.Delete(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			printMessage(cmd.OutOrStdout(), msg, "Event deleted")
			return nil
		},
	}
}

func newJoinCommand(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "join <event-id>",
		Short: "Join an event",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := c.rt.app.Refresh(cmd.Context()); err != nil {
				return err
			}
			res, err := c.rt.app.Join(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if res.AlreadyJoined {
				fmt.Fprintln(out, yellow("You already joined "+res.Event.Title))
				return nil
			}
			printMessage(out, res.Message, "Joined "+res.Event.Title)
			fmt.Fprintf(out, "%s attendees\n", bold(fmt.Sprint(res.Event.AttendeeCount)))
			return nil
		},
	}
}

func newLoginCommand(c *cli) *cobra.Command {
	var email, password string
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Sign in",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if password == "" {
				password = os.Getenv("EVENTHUB_PASSWORD")
			}
			if password == "" && term.IsTerminal(int(os.Stdin.Fd())) {
				fmt.Fprint(cmd.ErrOrStderr(), "Password: ")
				raw, err := term.ReadPassword(int(os.Stdin.Fd()))
				fmt.Fprintln(cmd.ErrOrStderr())
				if err != nil {
					return fmt.Errorf("read password: %w", err)
				}
				password = string(raw)
			}

			user, err := c.rt.app.Login(cmd.Context(), email, password)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), green("Signed in as "+displayName(user.Name, user.Email)))
			return nil
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "Account email")
	cmd.Flags().StringVar(&password, "password", "", "Account password (prompted when omitted)")
	return cmd
}

func newRegisterCommand(c *cli) *cobra.Command {
	var in gateway.RegisterInput
	cmd := &cobra.Command{
		Use:   "register",
		Short: "Create an account",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			msg, err := c.rt.app.Register(cmd.Context(), in)
			if err != nil {
				return err
			}
			printMessage(cmd.OutOrStdout(), msg, "Account created; sign in with eventhub login")
			return nil
		},
	}
	cmd.Flags().StringVar(&in.Name, "name", "", "Display name")
	cmd.Flags().StringVar(&in.Email, "email", "", "Account email")
	cmd.Flags().StringVar(&in.Password, "password", "", "Password (at least 6 characters)")
	cmd.Flags().StringVar(&in.PhotoURL, "photo-url", "", "Avatar URL")
	return cmd
}

func newLogoutCommand(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Sign out",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := c.rt.app.Logout(); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Signed out")
			return nil
		},
	}
}

func newWhoamiCommand(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Show the signed-in user",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			user, err := c.rt.app.RequireUser()
			if err != nil {
				if errors.Is(err, app.ErrNotAuthenticated) {
					return errors.New("not signed in; run eventhub login")
				}
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s %s\n", bold(displayName(user.Name, user.Email)), gray("("+user.ID+")"))
			if user.Email != "" {
				fmt.Fprintln(out, user.Email)
			}
			return nil
		},
	}
}

func newExportCommand(c *cli) *cobra.Command {
	var query, bucket, output string
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export events as an iCalendar file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if _, err := c.rt.app.Refresh(cmd.Context()); err != nil {
				return err
			}
			now := time.Now().In(c.rt.loc)
			events, err := c.rt.app.Events(filter.Query{Text: query, Bucket: filter.ParseBucket(bucket), Now: now})
			if err != nil {
				return err
			}
			body := ics.Export(events, ics.ExportOptions{Name: "EventHub", Stamp: now})

			if output == "" || output == "-" {
				_, err := fmt.Fprint(cmd.OutOrStdout(), body)
				return err
			}
			if err := os.WriteFile(output, []byte(body), 0o644); err != nil {
				return fmt.Errorf("write %q: %w", output, err)
			}
			appLog.Info("calendar exported", "path", output, "event_count", len(events))
			return nil
		},
	}
	cmd.Flags().StringVarP(&query, "query", "q", "", "Case-insensitive title filter")
	cmd.Flags().StringVarP(&bucket, "bucket", "b", string(filter.All), "Date bucket")
	cmd.Flags().StringVarP(&output, "output", "o", "", "Output file (default stdout)")
	return cmd
}

func newServeCommand(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the local JSON API with scheduled refresh",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			appLog.Info("eventhub starting", "version", version, "listen", c.rt.cfg.Listen)

			sched, err := scheduler.New(c.rt.cfg.RefreshCron, c.rt.app, c.rt.cfg.RequestTimeout*2)
			if err != nil {
				return err
			}
			if err := sched.Start(ctx); err != nil {
				return err
			}
			defer sched.Stop()

			srv := web.NewServer(c.rt.cfg, c.rt.app)
			if err := srv.Run(ctx); err != nil {
				return err
			}
			appLog.Info("eventhub exiting")
			return nil
		},
	}
}

func bucketNames() string {
	names := make([]string, 0, len(filter.Buckets))
	for _, b := range filter.Buckets {
		names = append(names, string(b))
	}
	return strings.Join(names, ", ")
}

func displayName(name, email string) string {
	if name != "" {
		return name
	}
	return email
}
