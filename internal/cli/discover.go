package cli

import (
	"fmt"
	"net"
	"time"

	"github.com/spf13/cobra"

	"github.com/starlane-games/starlane-server/internal/transport"
)

func newDiscoverCmd() *cobra.Command {
	var (
		addr    string
		query   string
		timeout time.Duration
	)

	cmd := &cobra.Command{
		Use:   "discover",
		Short: "Probe a server's UDP discovery port",
		Long: `discover sends the LAN discovery probe to a server's UDP port and
prints the answer. With --query it sends a read-only debug expression
instead, such as 'turn' or 'sessions - established'.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			payload := transport.DiscoveryProbe
			if query != "" {
				payload = query
			}

			conn, err := net.Dial("udp", addr)
			if err != nil {
				return fmt.Errorf("dial %s: %w", addr, err)
			}
			defer conn.Close()

			if err := conn.SetDeadline(time.Now().Add(timeout)); err != nil {
				return err
			}
			if _, err := conn.Write([]byte(payload)); err != nil {
				return fmt.Errorf("send probe: %w", err)
			}

			buf := make([]byte, 4096)
			n, err := conn.Read(buf)
			if err != nil {
				return fmt.Errorf("no answer from %s: %w", addr, err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(buf[:n]))
			return nil
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:12345", "Server discovery address")
	cmd.Flags().StringVarP(&query, "query", "q", "", "Debug expression to evaluate instead of the probe")
	cmd.Flags().DurationVar(&timeout, "timeout", 3*time.Second, "Answer timeout")

	return cmd
}
