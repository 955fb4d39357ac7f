package cli

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

func init() {
	cmd := &cobra.Command{
		Use:   "summary [text]",
		Short: "Record a session summary",
		Long:  "Record a session summary. Text can be a positional arg or piped via stdin.",
		Run:   runSummary,
	}

	RootCmd.AddCommand(cmd)
}

func runSummary(cmd *cobra.Command, args []string) {
	text := readContent(args)
	if strings.TrimSpace(text) == "" {
		exitErr("summary", fmt.Errorf("summary text is required (positional arg or stdin)"))
	}

	s, err := openSession()
	if err != nil {
		exitErr("open store", err)
	}
	defer s.Close()

	frameID, err := s.SaveSessionSummary(cmd.Context(), strings.TrimSpace(text))
	if err != nil {
		exitErr("summary", err)
	}

	out, _ := json.Marshal(map[string]string{"id": frameID})
	fmt.Println(string(out))
}
