package cli

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/clawmem/mindstore/internal/mind"
)

func init() {
	cmd := &cobra.Command{
		Use:   "path",
		Short: "Print the resolved store file path",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(filepath.Join(storeDir(), mind.DefaultStoreFile))
		},
	}

	RootCmd.AddCommand(cmd)
}
