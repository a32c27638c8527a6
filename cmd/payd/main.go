// payd is the payments service: an HTTP API for payment intents and webhook
// endpoint administration, plus the outbox relay delivering signed webhooks.
package main

import "os"

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}
