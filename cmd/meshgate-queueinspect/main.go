/*------------------------------------------------------------------
 *
 * Purpose:	Read-only inspection CLI for the gateway's bbolt store,
 *		in the spirit of the teacher's many small cmd/ utilities
 *		(e.g. samoyed-ll2utm).
 *
 *---------------------------------------------------------------*/
package main

import (
	"fmt"
	"os"

	"github.com/spf13/pflag"

	gateway "github.com/kd9xyz/meshgate/src"
)

func main() {
	var (
		dataDir = pflag.StringP("data-dir", "d", "/var/lib/meshgate", "Directory holding meshgate.db.")
		n       = pflag.IntP("count", "n", 20, "Number of recent reports to list.")
		help    = pflag.Bool("help", false, "Display help text.")
	)

	pflag.Parse()

	if *help {
		pflag.PrintDefaults()
		return
	}

	store, err := gateway.OpenStore(*dataDir + "/meshgate.db")
	if err != nil {
		fmt.Fprintln(os.Stderr, "meshgate-queueinspect: could not open store:", err)
		os.Exit(1)
	}
	defer store.Close()

	pending, err := store.PendingCount()
	if err != nil {
		fmt.Fprintln(os.Stderr, "meshgate-queueinspect: pending count failed:", err)
		os.Exit(1)
	}

	fmt.Printf("pending: %d\n\n", pending)

	recent, err := store.ListRecent(*n)
	if err != nil {
		fmt.Fprintln(os.Stderr, "meshgate-queueinspect: list recent failed:", err)
		os.Exit(1)
	}

	for _, r := range recent {
		fmt.Printf("%-8s %-8s %-10s %9.4f %9.4f %q\n", r.QueueID, r.Status, r.Origin, r.Lat, r.Lon, r.TextNormalized)
	}
}
