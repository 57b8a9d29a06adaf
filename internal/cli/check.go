package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/agentsh/linkguard/internal/scan"
	"github.com/agentsh/linkguard/internal/server"
	"github.com/agentsh/linkguard/internal/threatfeed"
)

// syncedCore builds the threat list core and runs one update so lookups
// have data to work with.
func syncedCore(ctx context.Context, cmd *cobra.Command, opts *rootOptions) (*server.Core, []string, error) {
	cfg, logger, err := opts.load(cmd)
	if err != nil {
		return nil, nil, err
	}
	core, err := server.NewCore(cfg.SafeBrowsing, nil)
	if err != nil {
		return nil, nil, err
	}
	if err := core.Syncer.Update(ctx); err != nil {
		var partial *threatfeed.PartialListFailure
		if !errors.As(err, &partial) {
			logger.Error("threat list update failed", "error", err)
			return nil, nil, err
		}
		logger.Warn("some threat lists failed to update", "error", err)
	}
	logger.Debug("threat lists updated", "prefixes", core.Store.Size())
	return core, cfg.Scan.Allowlist, nil
}

func newCheckCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "check URL...",
		Short: "Check URLs against the threat lists",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			core, _, err := syncedCore(cmd.Context(), cmd, opts)
			if err != nil {
				return err
			}
			matches, err := core.Matcher.CheckURLs(cmd.Context(), args)
			if err != nil {
				return err
			}
			return printMatches(cmd, opts, args, matches)
		},
	}
}

func newScanCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "scan [FILE]",
		Short: "Find URLs in text and check them (reads stdin without FILE or with -)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			text, err := readInput(cmd, args)
			if err != nil {
				return err
			}
			core, allowlist, err := syncedCore(cmd.Context(), cmd, opts)
			if err != nil {
				return err
			}
			scanner, err := scan.New(core.Matcher, allowlist)
			if err != nil {
				return err
			}
			res, err := scanner.Scan(cmd.Context(), text)
			if err != nil {
				return err
			}
			return printMatches(cmd, opts, res.URLs, res.Matches)
		},
	}
}

func readInput(cmd *cobra.Command, args []string) (string, error) {
	var r io.Reader = cmd.InOrStdin()
	if len(args) == 1 && args[0] != "-" {
		f, err := os.Open(args[0])
		if err != nil {
			return "", err
		}
		defer f.Close()
		r = f
	}
	b, err := io.ReadAll(bufio.NewReader(r))
	if err != nil {
		return "", fmt.Errorf("read input: %w", err)
	}
	return string(b), nil
}

type matchOutput struct {
	URL        string `json:"url"`
	ThreatType string `json:"threat_type"`
	FullHash   string `json:"full_hash"`
}

func printMatches(cmd *cobra.Command, opts *rootOptions, checked []string, matches []threatfeed.URLMatch) error {
	if opts.jsonOut {
		out := make([]matchOutput, 0, len(matches))
		for _, m := range matches {
			out = append(out, matchOutput{URL: m.URL, ThreatType: string(m.Match.ThreatType), FullHash: m.Match.FullHash.String()})
		}
		if err := printJSON(cmd, map[string]any{"checked": len(checked), "matches": out}); err != nil {
			return err
		}
	} else {
		w := cmd.OutOrStdout()
		for _, m := range matches {
			fmt.Fprintf(w, "%s\t%s\n", m.Match.ThreatType, m.URL)
		}
		if len(matches) == 0 {
			fmt.Fprintf(w, "no threats found in %d URL(s)\n", len(checked))
		}
	}
	if len(matches) > 0 {
		return &ExitError{code: exitThreatsFound}
	}
	return nil
}

func newListsCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "lists",
		Short: "Fetch the threat lists and report their sizes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			core, _, err := syncedCore(cmd.Context(), cmd, opts)
			if err != nil {
				return err
			}
			states := core.Store.Snapshot()
			if opts.jsonOut {
				type listOut struct {
					ThreatType string `json:"threat_type"`
					Prefixes   int    `json:"prefixes"`
				}
				out := make([]listOut, 0, len(states))
				for _, s := range states {
					out = append(out, listOut{ThreatType: string(s.ThreatType), Prefixes: len(s.Prefixes)})
				}
				return printJSON(cmd, map[string]any{
					"lists":        out,
					"minimum_wait": core.Syncer.MinimumWait().String(),
				})
			}
			w := cmd.OutOrStdout()
			for _, s := range states {
				fmt.Fprintf(w, "%-20s %d\n", s.ThreatType, len(s.Prefixes))
			}
			if wait := core.Syncer.MinimumWait(); wait > 0 {
				fmt.Fprintf(w, "next update allowed in %s\n", wait)
			}
			return nil
		},
	}
}
