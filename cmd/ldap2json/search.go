package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/isometry/ldap2json/internal/app"
	"github.com/isometry/ldap2json/internal/gateway"
	"github.com/isometry/ldap2json/internal/ldap"
)

func newSearchCommand(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "search [attr=value ...]",
		Short: "Run one search and print the JSON result",
		Long: `Run one search with the configured directory settings and print the result
document the gateway would return. All criteria must match; with no
criteria every entry under the base DN matches.`,
		Example: `  ldap2json search uid=alice
  ldap2json -f ldap2json.yaml search objectClass=person mail=*@example.com`,
		RunE: func(cmd *cobra.Command, args []string) error {
			criteria, err := parseCriteria(args)
			if err != nil {
				return err
			}

			cfg, logger, err := loadConfig(cmd, flags)
			if err != nil {
				return err
			}

			a, err := app.New(background(cmd), cfg, logger)
			if err != nil {
				return err
			}
			defer closeApp(logger, a)

			result, err := a.Client.Search(background(cmd), criteria)
			if err != nil {
				return err
			}
			if len(result.Records) == 0 {
				return fmt.Errorf("no entries match %s", result.Filter)
			}

			body, err := gateway.EncodeRecords(result.Records)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(body))
			return nil
		},
	}
}

// parseCriteria turns attr=value arguments into criteria; a repeated
// attribute keeps its last value.
func parseCriteria(args []string) (ldap.Criteria, error) {
	criteria := make(ldap.Criteria, len(args))
	for _, arg := range args {
		attr, value, ok := strings.Cut(arg, "=")
		if !ok || attr == "" {
			return nil, fmt.Errorf("invalid criterion %q, expected attr=value", arg)
		}
		criteria[attr] = value
	}
	return criteria, nil
}
