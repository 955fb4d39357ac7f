package cli

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

func init() {
	cmd := &cobra.Command{
		Use:   "context [query]",
		Short: "Assemble recent and relevant observations for a prompt",
		Run:   runContext,
	}

	RootCmd.AddCommand(cmd)
}

func runContext(cmd *cobra.Command, args []string) {
	s, err := openSession()
	if err != nil {
		exitErr("open store", err)
	}
	defer s.Close()

	bundle, err := s.GetContext(cmd.Context(), strings.Join(args, " "))
	if err != nil {
		exitErr("context", err)
	}

	b, _ := json.MarshalIndent(bundle, "", "  ")
	fmt.Println(string(b))
}
