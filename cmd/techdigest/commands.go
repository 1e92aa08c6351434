package main

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/kalambet/techdigest/internal/config"
	"github.com/kalambet/techdigest/internal/delivery"
	"github.com/kalambet/techdigest/internal/ingest"
	"github.com/kalambet/techdigest/internal/news"
	"github.com/kalambet/techdigest/internal/storage"
	"github.com/kalambet/techdigest/internal/subscription"
)

// --- fetch / deliver ---

var fetchCmd = &cobra.Command{
	Use:   "fetch",
	Short: "Fetch, embed and store new articles",
	Long: `Fetch, embed and store new articles.

By default this asks the running server to do the work (same as the cron
endpoint). With --local the ingestion runs in this process.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		local, _ := cmd.Flags().GetBool("local")
		if local {
			return withLocalApp(cmd.Context(), func(ctx context.Context, a *app) error {
				printStep("Fetching feeds...")
				res, err := a.pipeline.Run(ctx)
				printIngestResult(res)
				return ingestError(err)
			})
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.post(cmd.Context(), "/cron/fetch", nil)
		if err != nil {
			return err
		}
		var res ingest.Result
		if err := decodeJSON(resp, &res); err != nil {
			return err
		}
		printIngestResult(res)
		return nil
	},
}

var deliverCmd = &cobra.Command{
	Use:   "deliver",
	Short: "Refresh articles and send today's digests to every active user",
	RunE: func(cmd *cobra.Command, args []string) error {
		local, _ := cmd.Flags().GetBool("local")
		if local {
			return withLocalApp(cmd.Context(), func(ctx context.Context, a *app) error {
				printStep("Fetching feeds...")
				res, err := a.pipeline.Run(ctx)
				printIngestResult(res)
				if err != nil {
					printWarning("ingestion did not finish: %v", err)
				}
				printStep("Delivering...")
				sum, err := a.tracker.DeliverAll(ctx)
				if err != nil {
					return err
				}
				printSummary(sum)
				return nil
			})
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.post(cmd.Context(), "/cron/deliver", nil)
		if err != nil {
			return err
		}
		var out struct {
			Users     int `json:"users"`
			Delivered int `json:"delivered"`
			Skipped   int `json:"skipped"`
			Failed    int `json:"failed"`
			Errors    int `json:"errors"`
		}
		if err := decodeJSON(resp, &out); err != nil {
			return err
		}
		printSummary(delivery.Summary{
			Users:      out.Users,
			Delivered:  out.Delivered,
			Skipped:    out.Skipped,
			SendFailed: out.Failed,
			Errors:     out.Errors,
		})
		return nil
	},
}

func init() {
	fetchCmd.Flags().Bool("local", false, "run ingestion in this process instead of on the server")
	deliverCmd.Flags().Bool("local", false, "run delivery in this process instead of on the server")
}

func withLocalApp(ctx context.Context, fn func(context.Context, *app) error) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	setupLogging(cfg.Log.Level)
	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(ctx, a)
}

func ingestError(err error) error {
	switch {
	case errors.Is(err, ingest.ErrQuotaExceeded):
		return fmt.Errorf("embedding quota exceeded; check your provider billing (articles embedded so far were saved)")
	case errors.Is(err, ingest.ErrRateLimited):
		return fmt.Errorf("embedding provider rate limited the run; try again later")
	}
	return err
}

func printIngestResult(res ingest.Result) {
	printStatus("Fetched", "%d", res.Fetched)
	printStatus("New", "%d", res.New)
	printStatus("Saved", "%d", res.Saved)
}

func printSummary(sum delivery.Summary) {
	printStatus("Active users", "%d", sum.Users)
	printStatus("Delivered", "%d", sum.Delivered)
	if sum.Articles > 0 {
		printStatus("Articles sent", "%d", sum.Articles)
	}
	printStatus("Skipped", "%d", sum.Skipped)
	if sum.SendFailed > 0 {
		printStatus("Send failures", "%s", colorize(colorRed, strconv.Itoa(sum.SendFailed)))
	}
	if sum.Errors > 0 {
		printStatus("Errors", "%s", colorize(colorRed, strconv.Itoa(sum.Errors)))
	}
}

// --- deliver-now ---

var deliverNowCmd = &cobra.Command{
	Use:   "deliver-now <user>",
	Short: "Send one user a digest right away",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		channel, _ := cmd.Flags().GetString("channel")
		wait, _ := cmd.Flags().GetDuration("wait")

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.post(cmd.Context(), userPath(args[0], "deliveries"), map[string]string{"channel_id": channel})
		if err != nil {
			return err
		}
		var queued struct {
			Token   string `json:"token"`
			Message string `json:"message"`
		}
		if err := decodeJSON(resp, &queued); err != nil {
			return err
		}
		printStep("%s (token %s)", queued.Message, queued.Token)
		if wait <= 0 {
			return nil
		}

		ctx, cancel := context.WithTimeout(cmd.Context(), wait)
		defer cancel()
		st, err := waitForDelivery(ctx, client, queued.Token, time.Second)
		if err != nil {
			return err
		}
		if st.Status == storage.JobFailed {
			return fmt.Errorf("%s", st.Message)
		}
		printSuccess("%s", st.Message)
		return nil
	},
}

func init() {
	deliverNowCmd.Flags().String("channel", "", "channel to notify when the delivery finishes")
	deliverNowCmd.Flags().Duration("wait", 0, "wait up to this long for the delivery to finish")
}

// waitForDelivery polls a delivery token until it reaches a final state.
func waitForDelivery(ctx context.Context, c *apiClient, token string, interval time.Duration) (subscription.DeliveryStatus, error) {
	for {
		resp, err := c.get(ctx, "/deliveries/"+url.PathEscape(token))
		if err != nil {
			return subscription.DeliveryStatus{}, err
		}
		var st subscription.DeliveryStatus
		if err := decodeJSON(resp, &st); err != nil {
			return st, err
		}
		if st.Status == storage.JobCompleted || st.Status == storage.JobFailed {
			return st, nil
		}

		select {
		case <-ctx.Done():
			return st, fmt.Errorf("delivery still %s: %w", st.Status, ctx.Err())
		case <-time.After(interval):
		}
	}
}

// --- user commands ---

func userPath(externalID string, parts ...string) string {
	p := "/users/" + url.PathEscape(externalID)
	for _, part := range parts {
		p += "/" + url.PathEscape(part)
	}
	return p
}

var registerCmd = &cobra.Command{
	Use:   "register <user>",
	Short: "Register a user for daily digests",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.post(cmd.Context(), userPath(args[0]), nil)
		if err != nil {
			return err
		}
		var out struct {
			Message string `json:"message"`
		}
		if err := decodeJSON(resp, &out); err != nil {
			return err
		}
		printSuccess("%s", out.Message)
		return nil
	},
}

var themesCmd = &cobra.Command{
	Use:   "themes",
	Short: "Manage a user's interest themes",
}

var themesListCmd = &cobra.Command{
	Use:   "list <user>",
	Short: "List themes",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.get(cmd.Context(), userPath(args[0], "themes"))
		if err != nil {
			return err
		}
		var themes []news.Theme
		if err := decodeJSON(resp, &themes); err != nil {
			return err
		}
		if len(themes) == 0 {
			fmt.Println("No themes registered. Add one with `techdigest themes add`.")
			return nil
		}
		fmt.Printf("%s\n\n", colorize(colorBold, fmt.Sprintf("📋 Registered themes (%d)", len(themes))))
		for _, t := range themes {
			fmt.Printf("• %s\n", t.Name)
		}
		return nil
	},
}

var themesAddCmd = &cobra.Command{
	Use:   "add <user> <name>",
	Short: "Add a theme",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.post(cmd.Context(), userPath(args[0], "themes"), map[string]string{"name": args[1]})
		if err != nil {
			return err
		}
		var t news.Theme
		if err := decodeJSON(resp, &t); err != nil {
			return err
		}
		printSuccess("Added theme %q", t.Name)
		return nil
	},
}

var themesRemoveCmd = &cobra.Command{
	Use:   "remove <user> <name>",
	Short: "Remove a theme (case-insensitive)",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.delete(cmd.Context(), userPath(args[0], "themes", args[1]))
		if err != nil {
			return err
		}
		if err := decodeJSON(resp, nil); err != nil {
			return err
		}
		printSuccess("Removed theme %q", args[1])
		return nil
	},
}

func init() {
	themesCmd.AddCommand(themesListCmd, themesAddCmd, themesRemoveCmd)
}

var settingsCmd = &cobra.Command{
	Use:   "settings",
	Short: "Show or change a user's delivery settings",
}

var settingsCountCmd = &cobra.Command{
	Use:   "count <user> <n>",
	Short: fmt.Sprintf("Set articles per digest (%d-%d)", news.MinArticleCount, news.MaxArticleCount),
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		n, err := strconv.Atoi(args[1])
		if err != nil {
			return fmt.Errorf("count must be a number: %w", err)
		}
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.put(cmd.Context(), userPath(args[0], "article-count"), map[string]int{"count": n})
		if err != nil {
			return err
		}
		var u news.User
		if err := decodeJSON(resp, &u); err != nil {
			return err
		}
		printSuccess("Digest size set to %d articles", u.ArticleCount)
		return nil
	},
}

var settingsToggleCmd = &cobra.Command{
	Use:   "toggle <user>",
	Short: "Pause or resume scheduled delivery",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.post(cmd.Context(), userPath(args[0], "toggle"), nil)
		if err != nil {
			return err
		}
		var u news.User
		if err := decodeJSON(resp, &u); err != nil {
			return err
		}
		if u.IsActive {
			printSuccess("Delivery resumed")
		} else {
			printWarning("Delivery paused. Run `techdigest settings toggle` again to resume.")
		}
		return nil
	},
}

var settingsStatusCmd = &cobra.Command{
	Use:   "status <user>",
	Short: "Show current settings",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.get(cmd.Context(), userPath(args[0]))
		if err != nil {
			return err
		}
		var st subscription.Settings
		if err := decodeJSON(resp, &st); err != nil {
			return err
		}
		printSettings(st)
		return nil
	},
}

func init() {
	settingsCmd.AddCommand(settingsCountCmd, settingsToggleCmd, settingsStatusCmd)
}

func printSettings(st subscription.Settings) {
	state := colorize(colorGreen, "active ✅")
	if !st.User.IsActive {
		state = colorize(colorYellow, "paused ⏸️")
	}
	printStatus("Delivery", "%s", state)
	printStatus("Articles per day", "%d", st.User.ArticleCount)
	printStatus("Themes", "%d", len(st.Themes))
	for _, name := range st.Themes {
		fmt.Fprintf(os.Stderr, "    • %s\n", name)
	}
}

// --- config ---

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or update configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		for _, k := range config.ShowAll(cfg) {
			fmt.Printf("  %s = %s\n", colorize(colorBold, k.Key), k.Value)
		}
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]
		if err := config.SetKey(key, value); err != nil {
			return err
		}
		printSuccess("Set %s", key)
		return nil
	},
}

var configSetSecretCmd = &cobra.Command{
	Use:   "set-secret <key> <value>",
	Short: "Store a secret (API key, bot token, cron secret) in the secrets file",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := config.SetSecret(args[0], args[1]); err != nil {
			return err
		}
		printSuccess("Stored %s", args[0])
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd, configSetCmd, configSetSecretCmd)
}
