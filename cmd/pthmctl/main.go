// Command pthmctl is a small diagnostic harness for the prefix-tree hash
// map library. It builds a fresh, in-process string-keyed Map each run,
// optionally seeds it from a file of "key=value" lines, runs one of
// put/get/remove/stats/dump, and prints the result; put, remove and stats
// also print a one-line summary of the tree's shape. Persistence is explicitly out of scope for the library,
// so pthmctl never claims to be a server or a durable store — it is a
// scratchpad.
package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/prefixmap/pthm/internal/log"
	"github.com/prefixmap/pthm/metrics"
	"github.com/prefixmap/pthm/pthm"
	"github.com/prefixmap/pthm/store"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
)

var (
	seedPath     string
	leafCapacity int
	minConc      int
	verbose      bool
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "pthmctl:", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "pthmctl",
		Short: "Exercise a prefix-tree hash map from the command line",
	}
	root.PersistentFlags().StringVar(&seedPath, "seed", "", "file of key=value lines to load before running the command")
	root.PersistentFlags().IntVar(&leafCapacity, "leaf-capacity", 16, "leaf bucket table size (power of two)")
	root.PersistentFlags().IntVar(&minConc, "min-concurrency", 1, "pre-split the tree for at least this many leaves")
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "log split/merge activity to stderr")

	root.AddCommand(putCmd(), getCmd(), removeCmd(), statsCmd(), dumpCmd())
	return root
}

func newSession() (*store.Manager, *pthm.Map[string, string], error) {
	var opts []pthm.Option
	opts = append(opts, pthm.WithLeafCapacity(leafCapacity), pthm.WithMinConcurrency(minConc))
	if verbose {
		opts = append(opts, pthm.WithLogger(log.New("pthmctl")))
	}
	rec := metrics.NewRecorder(prometheus.NewRegistry())
	opts = append(opts, pthm.WithMetrics(rec))

	mgr := store.NewManager(store.WithMetrics(rec))
	if verbose {
		mgr = store.NewManager(store.WithMetrics(rec), store.WithLogger(log.New("store")))
	}

	var m *pthm.Map[string, string]
	err := mgr.WithRetry(context.Background(), func(tx *store.Tx) error {
		var err error
		m, err = pthm.New[string, string](tx, pthm.StringHasher{}, opts...)
		return err
	})
	if err != nil {
		return nil, nil, err
	}

	if seedPath != "" {
		if err := seed(mgr, m, seedPath); err != nil {
			return nil, nil, err
		}
	}
	return mgr, m, nil
}

func seed(mgr *store.Manager, m *pthm.Map[string, string], path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open seed file: %w", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		k, v, ok := strings.Cut(line, "=")
		if !ok {
			return fmt.Errorf("malformed seed line %q, expected key=value", line)
		}
		if err := mgr.WithRetry(context.Background(), func(tx *store.Tx) error {
			_, _, err := m.Put(tx, k, v)
			return err
		}); err != nil {
			return fmt.Errorf("seed put %q: %w", k, err)
		}
	}
	return scanner.Err()
}

func putCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "put <key> <value>",
		Short: "Insert or update a key",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			mgr, m, err := newSession()
			if err != nil {
				return err
			}
			var old string
			var had bool
			if err := mgr.WithRetry(cmd.Context(), func(tx *store.Tx) error {
				old, had, err = m.Put(tx, args[0], args[1])
				return err
			}); err != nil {
				return err
			}
			if had {
				fmt.Printf("replaced %q (was %q)\n", args[0], old)
			} else {
				fmt.Printf("inserted %q\n", args[0])
			}
			return printStats(mgr, m)
		},
	}
}

func getCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <key>",
		Short: "Look up a key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			mgr, m, err := newSession()
			if err != nil {
				return err
			}
			var v string
			var ok bool
			if err := mgr.WithRetry(cmd.Context(), func(tx *store.Tx) error {
				v, ok, err = m.Get(tx, args[0])
				return err
			}); err != nil {
				return err
			}
			if !ok {
				fmt.Printf("%q not found\n", args[0])
				return nil
			}
			fmt.Printf("%q = %q\n", args[0], v)
			return nil
		},
	}
}

func removeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "remove <key>",
		Short: "Remove a key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			mgr, m, err := newSession()
			if err != nil {
				return err
			}
			var v string
			var ok bool
			if err := mgr.WithRetry(cmd.Context(), func(tx *store.Tx) error {
				v, ok, err = m.Remove(tx, args[0])
				return err
			}); err != nil {
				return err
			}
			if !ok {
				fmt.Printf("%q not found\n", args[0])
				return nil
			}
			fmt.Printf("removed %q (was %q)\n", args[0], v)
			return printStats(mgr, m)
		},
	}
}

func statsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Print tree shape after loading --seed",
		RunE: func(cmd *cobra.Command, args []string) error {
			mgr, m, err := newSession()
			if err != nil {
				return err
			}
			return printStats(mgr, m)
		},
	}
}

func dumpCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "dump",
		Short: "Print the tree's node structure after loading --seed",
		RunE: func(cmd *cobra.Command, args []string) error {
			mgr, m, err := newSession()
			if err != nil {
				return err
			}
			var tree string
			if err := mgr.WithRetry(cmd.Context(), func(tx *store.Tx) error {
				tree, err = m.DebugTree(tx)
				return err
			}); err != nil {
				return err
			}
			fmt.Print(tree)
			return nil
		},
	}
}

func printStats(mgr *store.Manager, m *pthm.Map[string, string]) error {
	var s pthm.Stats
	err := mgr.WithRetry(context.Background(), func(tx *store.Tx) error {
		var err error
		s, err = m.Stats(tx)
		return err
	})
	if err != nil {
		return err
	}
	fmt.Printf("entries=%d leaves=%d depth=[%d,%d] occupied=%d/%d\n",
		s.Entries, s.Leaves, s.MinDepth, s.MaxDepth, s.OccupiedBuckets, s.TotalBuckets)
	return nil
}
