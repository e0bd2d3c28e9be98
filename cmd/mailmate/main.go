// Command mailmate runs the email support bot: it polls a mailbox for
// messages from registered users and answers them with generated replies.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
