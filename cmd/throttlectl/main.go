package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/growattmon/growattmon/pkg/log"
	"github.com/growattmon/growattmon/pkg/storage"
	"github.com/levenlabs/go-lflag"
)

// throttlectl inspects and edits the durable throttle state. Useful when a
// stuck record is holding setup back and you have decided the cooldown no
// longer applies (e.g. the credentials changed).
func main() {
	s := storage.Configured()
	clear := lflag.String("clear", "", "Operation name to remove from the throttle state")
	lflag.Configure()

	ctx := context.Background()
	defer s.Close()

	records, err := s.LoadThrottle(ctx)
	if err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to load throttle state", "error", err)
		os.Exit(1)
	}

	if *clear != "" {
		if _, ok := records.Calls[*clear]; !ok {
			fmt.Fprintf(os.Stderr, "no record for operation %q\n", *clear)
			os.Exit(1)
		}
		delete(records.Calls, *clear)
		if err := s.SaveThrottle(ctx, records); err != nil {
			log.Ctx(ctx).ErrorContext(ctx, "failed to save throttle state", "error", err)
			os.Exit(1)
		}
		fmt.Printf("cleared %q\n", *clear)
		return
	}

	if len(records.Calls) == 0 {
		fmt.Println("no recorded calls")
		return
	}
	for op, raw := range records.Calls {
		line := fmt.Sprintf("%s\t%s", op, raw)
		if ts, err := time.Parse(time.RFC3339, raw); err == nil {
			line += fmt.Sprintf("\t(%s ago)", time.Since(ts).Round(time.Second))
		} else {
			line += "\t(unparsable)"
		}
		fmt.Println(line)
	}
}
