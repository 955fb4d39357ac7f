package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/clawmem/mindstore/internal/session"
)

func init() {
	sessionIDCmd := &cobra.Command{
		Use:   "session-id",
		Short: "Resolve the current session id",
		Run:   runSessionID,
	}
	sessionIDCmd.Flags().String("fallback", "", "Id to use when no record exists")
	sessionIDCmd.Flags().Bool("persist", false, "Persist a freshly generated id to the registry")

	startCmd := &cobra.Command{
		Use:   "session-start <session-id>",
		Short: "Register a new session for the detected source",
		Args:  cobra.ExactArgs(1),
		Run:   runSessionStart,
	}

	RootCmd.AddCommand(sessionIDCmd, startCmd)
}

func runSessionID(cmd *cobra.Command, args []string) {
	fallback, _ := cmd.Flags().GetString("fallback")
	persist, _ := cmd.Flags().GetBool("persist")

	registry := &session.Registry{
		Dir:              storeDir(),
		PersistGenerated: persist,
		Logger:           logger(),
	}

	out, _ := json.Marshal(map[string]string{
		"session_id": registry.GetSessionID(fallback),
		"source":     session.DetectSource(),
	})
	fmt.Println(string(out))
}

func runSessionStart(cmd *cobra.Command, args []string) {
	registry := &session.Registry{Dir: storeDir(), Logger: logger()}
	source := session.DetectSource()

	if err := registry.Write(args[0], source); err != nil {
		exitErr("session-start", err)
	}

	out, _ := json.Marshal(map[string]string{"session_id": args[0], "source": source})
	fmt.Println(string(out))
}
