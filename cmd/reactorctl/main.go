// reactorctl is a small operator CLI for a running reactor service: send a
// test reaction event, inspect the audit trail or a ledger record, and
// trigger a rule reload.
package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/flowhook/reactor/internal/api"
)

var (
	baseURL string
	secret  string
)

func main() {
	_ = godotenv.Load()

	root := &cobra.Command{
		Use:           "reactorctl",
		Short:         "Operator CLI for the reactor service",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&baseURL, "url", envOr("REACTOR_CTL_URL", "http://localhost:8080"), "service base URL")
	root.PersistentFlags().StringVar(&secret, "secret", os.Getenv("REACTOR_WEBHOOK_SECRET"), "webhook HMAC secret")

	root.AddCommand(sendCmd(), auditCmd(), actionCmd(), reloadCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func client() *resty.Client {
	return resty.New().SetBaseURL(baseURL).SetTimeout(10 * time.Second)
}

func sendCmd() *cobra.Command {
	var (
		emoji      string
		chatJID    string
		senderJID  string
		text       string
		messageID  string
		deliveryID string
	)
	cmd := &cobra.Command{
		Use:   "send",
		Short: "Send a test reaction event to POST /wh",
		RunE: func(cmd *cobra.Command, _ []string) error {
			payload := map[string]string{
				"event_type":  "reaction",
				"delivery_id": deliveryID,
				"message_id":  messageID,
				"chat_jid":    chatJID,
				"sender_jid":  senderJID,
				"emoji":       emoji,
				"text":        text,
				"at":          time.Now().UTC().Format(time.RFC3339),
			}
			body, err := json.Marshal(payload)
			if err != nil {
				return err
			}

			req := client().R().SetHeader("Content-Type", "application/json").SetBody(body)
			if secret != "" {
				req.SetHeader(api.HeaderSignature, api.SignBody(secret, body))
				req.SetHeader(api.HeaderTimestamp, time.Now().UTC().Format(time.RFC3339))
			}
			resp, err := req.Post("/wh")
			if err != nil {
				return errors.Wrap(err, "send webhook")
			}
			fmt.Printf("%s %s\n", resp.Status(), resp.String())
			return nil
		},
	}
	cmd.Flags().StringVar(&emoji, "emoji", "✅", "reaction emoji")
	cmd.Flags().StringVar(&chatJID, "chat", "5215579188699@s.whatsapp.net", "chat JID")
	cmd.Flags().StringVar(&senderJID, "sender", "5215579188699@s.whatsapp.net", "sender JID")
	cmd.Flags().StringVar(&text, "text", "comprar el material", "reacted message text")
	cmd.Flags().StringVar(&messageID, "message-id", "CTL-TEST-1", "message id")
	cmd.Flags().StringVar(&deliveryID, "delivery-id", "", "delivery id (empty derives a stable key)")
	return cmd
}

func auditCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "List recent audit entries",
		RunE: func(*cobra.Command, []string) error {
			resp, err := client().R().SetQueryParam("limit", fmt.Sprint(limit)).Get("/api/audit")
			if err != nil {
				return errors.Wrap(err, "fetch audit")
			}
			return printJSON(resp.Body())
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "max entries")
	return cmd
}

func actionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "action <deliveryId>",
		Short: "Show the ledger record for a delivery",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			resp, err := client().R().Get("/api/actions/" + args[0])
			if err != nil {
				return errors.Wrap(err, "fetch action")
			}
			if resp.StatusCode() == 404 {
				return errors.Errorf("no action record for %q", args[0])
			}
			return printJSON(resp.Body())
		},
	}
}

func reloadCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reload",
		Short: "Reload the rule file",
		RunE: func(*cobra.Command, []string) error {
			resp, err := client().R().Post("/api/rules/reload")
			if err != nil {
				return errors.Wrap(err, "reload rules")
			}
			fmt.Printf("%s %s\n", resp.Status(), resp.String())
			return nil
		},
	}
}

func printJSON(raw []byte) error {
	var buf interface{}
	if err := json.Unmarshal(raw, &buf); err != nil {
		fmt.Println(string(raw))
		return nil
	}
	pretty, err := json.MarshalIndent(buf, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(pretty))
	return nil
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
