package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/Checker-Finance/relay-adapter/internal/relay"
	"github.com/Checker-Finance/relay-adapter/pkg/model"
)

// bridgeFlags are the request flags shared by quote and bridge.
type bridgeFlags struct {
	flow                string
	user                string
	recipient           string
	originChainID       uint64
	destinationChainID  uint64
	originCurrency      string
	destinationCurrency string
	amount              string
	decimals            int32
}

func (f *bridgeFlags) bind(cmd *cobra.Command) {
	fl := cmd.Flags()
	fl.StringVar(&f.flow, "flow", string(model.FlowPermit), "permit, eip7702, safe or erc4337")
	fl.StringVar(&f.user, "user", "", "Safe or smart account address (defaults to the signer)")
	fl.StringVar(&f.recipient, "recipient", "", "destination address (defaults to user)")
	fl.Uint64Var(&f.originChainID, "origin-chain", 0, "origin chain id")
	fl.Uint64Var(&f.destinationChainID, "destination-chain", 0, "destination chain id")
	fl.StringVar(&f.originCurrency, "origin-currency", "", "origin token address")
	fl.StringVar(&f.destinationCurrency, "destination-currency", "", "destination token address")
	fl.StringVar(&f.amount, "amount", "", "amount in token units, e.g. 12.5")
	fl.Int32Var(&f.decimals, "decimals", 6, "origin token decimals")
	for _, name := range []string{"origin-chain", "destination-chain", "origin-currency", "destination-currency", "amount"} {
		_ = cmd.MarkFlagRequired(name)
	}
}

func (f *bridgeFlags) request() model.BridgeRequest {
	return model.BridgeRequest{
		ClientID:            cliClientID,
		Flow:                model.Flow(f.flow),
		User:                f.user,
		Recipient:           f.recipient,
		OriginChainID:       f.originChainID,
		DestinationChainID:  f.destinationChainID,
		OriginCurrency:      f.originCurrency,
		DestinationCurrency: f.destinationCurrency,
		Amount:              f.amount,
		Decimals:            f.decimals,
	}
}

func chainsCmd(build appFactory) *cobra.Command {
	return &cobra.Command{
		Use:   "chains",
		Short: "List the chains supported by the relay",
		RunE: withApp(build, func(ctx context.Context, a *app, _ *cobra.Command, _ []string) error {
			resp, err := a.chains.GetChains(ctx, &a.settings.Relay)
			if err != nil {
				return err
			}
			for _, c := range resp.Chains {
				state := "enabled"
				if c.Disabled {
					state = "disabled"
				}
				fmt.Fprintf(a.out, "%-10d %-20s %s\n", c.ID, c.DisplayName, state)
			}
			return nil
		}),
	}
}

func quoteCmd(build appFactory) *cobra.Command {
	var flags bridgeFlags
	cmd := &cobra.Command{
		Use:   "quote",
		Short: "Request a quote without signing or submitting",
		RunE: withApp(build, func(ctx context.Context, a *app, _ *cobra.Command, _ []string) error {
			summary, err := a.service.Quote(ctx, flags.request())
			if err != nil {
				return err
			}
			return printJSON(a.out, summary)
		}),
	}
	flags.bind(cmd)
	return cmd
}

func bridgeCmd(build appFactory) *cobra.Command {
	var (
		flags bridgeFlags
		wait  bool
	)
	cmd := &cobra.Command{
		Use:   "bridge",
		Short: "Sign and submit a bridge, then follow it until it settles",
		RunE: withApp(build, func(ctx context.Context, a *app, _ *cobra.Command, _ []string) error {
			rec, err := a.service.Submit(ctx, flags.request())
			if err != nil {
				return err
			}
			fmt.Fprintf(a.out, "submitted %s (flow %s)\n", rec.RequestID, rec.Flow)
			if !wait {
				return nil
			}
			// the foreground wait replaces the service's background tracking
			a.tracker.CancelTracking(rec.RequestID)
			return waitAndReport(ctx, a, rec.RequestID, rec.Flow)
		}),
	}
	flags.bind(cmd)
	cmd.Flags().BoolVar(&wait, "wait", true, "poll until the bridge reaches a terminal status")
	return cmd
}

func statusCmd(build appFactory) *cobra.Command {
	var (
		wait bool
		flow string
	)
	cmd := &cobra.Command{
		Use:   "status <requestId>",
		Short: "Show the relay status of a request",
		Args:  cobra.ExactArgs(1),
		RunE: withApp(build, func(ctx context.Context, a *app, _ *cobra.Command, args []string) error {
			requestID := args[0]
			if wait {
				f, ok := model.ParseFlow(flow)
				if !ok {
					return fmt.Errorf("unsupported flow %q", flow)
				}
				return waitAndReport(ctx, a, requestID, f)
			}
			st, err := a.service.FetchStatus(ctx, cliClientID, requestID)
			if err != nil {
				return err
			}
			return printJSON(a.out, st)
		}),
	}
	cmd.Flags().BoolVar(&wait, "wait", false, "poll until the request reaches a terminal status")
	cmd.Flags().StringVar(&flow, "flow", string(model.FlowPermit), "flow the request was submitted with (selects the poll budget)")
	return cmd
}

// waitAndReport prints one line per poll attempt and the final status.
func waitAndReport(ctx context.Context, a *app, requestID string, flow model.Flow) error {
	start := time.Now()
	final, err := a.service.Wait(ctx, cliClientID, requestID, flow, func(attempt int, st *relay.StatusResponse) {
		fmt.Fprintf(a.out, "[%3d] %-10s %6s\n", attempt, relay.NormalizeStatus(st.Status), time.Since(start).Round(time.Second))
	})
	if errors.Is(err, relay.ErrPollTimeout) && final != nil {
		fmt.Fprintf(a.errOut, "gave up waiting; last status %s\n", final.Status)
	}
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "final status: %s\n", relay.NormalizeStatus(final.Status))
	for _, h := range final.InTxHashes {
		fmt.Fprintf(a.out, "  origin tx:      %s\n", h)
	}
	for _, h := range final.TxHashes {
		fmt.Fprintf(a.out, "  destination tx: %s\n", h)
	}
	if relay.NormalizeStatus(final.Status) != model.StatusSuccess {
		return fmt.Errorf("bridge %s ended with status %s", requestID, final.Status)
	}
	return nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
