package main

import (
	"fmt"

	"github.com/SherClockHolmes/webpush-go"
	"github.com/spf13/cobra"
)

var vapidKeysCmd = &cobra.Command{
	Use:   "vapid-keys",
	Short: "Generate a VAPID key pair",
	Long: `Generate a new VAPID key pair and print it as environment assignments.

The public key is what browsers pass as applicationServerKey to
pushManager.subscribe(). Rotating keys invalidates every stored
subscription.

Example:
  webpushservice vapid-keys >> .env`,
	RunE: runVapidKeys,
}

func init() {
	rootCmd.AddCommand(vapidKeysCmd)
}

func runVapidKeys(cmd *cobra.Command, args []string) error {
	privateKey, publicKey, err := webpush.GenerateVAPIDKeys()
	if err != nil {
		return fmt.Errorf("failed to generate vapid keys: %w", err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "VAPID_PUBLIC_KEY=%s\n", publicKey)
	fmt.Fprintf(out, "VAPID_PRIVATE_KEY=%s\n", privateKey)
	return nil
}
