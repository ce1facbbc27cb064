package app

import (
	"strings"

	clierr "github.com/ggonzalez94/defi-adapters/internal/errors"
	"github.com/ggonzalez94/defi-adapters/internal/id"
	"github.com/ggonzalez94/defi-adapters/internal/model"
	"github.com/ggonzalez94/defi-adapters/internal/schema"
	"github.com/spf13/cobra"
)

func (s *runtimeState) newProtocolsCommand() *cobra.Command {
	root := &cobra.Command{Use: "protocols", Short: "Supported protocols and their verbs"}
	root.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List enabled protocols",
		RunE: func(cmd *cobra.Command, args []string) error {
			items := make([]model.ProtocolInfo, 0)
			for _, p := range s.catalog.Protocols() {
				info := model.ProtocolInfo{Name: p.Name(), Description: p.Description()}
				if entry, ok := s.registry.Protocol(p.Name()); ok {
					info.Chains = entry.Chains
				}
				for _, v := range p.Verbs() {
					info.Verbs = append(info.Verbs, model.VerbInfo{
						Name:         v.Name,
						Description:  v.Description,
						ResourceKind: v.ResourceKind,
						Payable:      v.Payable,
					})
				}
				items = append(items, info)
			}
			return s.emitSuccess(trimRootPath(cmd.CommandPath()), items, nil)
		},
	})
	return root
}

func (s *runtimeState) newResourcesCommand() *cobra.Command {
	root := &cobra.Command{Use: "resources", Short: "Registry resources per protocol"}
	var protocolArg, chainArg string
	listCmd := &cobra.Command{
		Use:     "list",
		Short:   "List registry resources for a protocol",
		Example: "adapters resources list --protocol gauge --chain sonic",
		RunE: func(cmd *cobra.Command, args []string) error {
			protocol := strings.ToLower(strings.TrimSpace(protocolArg))
			if _, ok := s.catalog.Lookup(protocol); !ok {
				return clierr.New(clierr.CodeUnsupported, "unsupported protocol: "+protocolArg)
			}
			if strings.TrimSpace(chainArg) == "" {
				return s.emitSuccess(trimRootPath(cmd.CommandPath()), s.registry.Resources(protocol, nil), nil)
			}
			chain, err := id.ParseKnownChain(chainArg)
			if err != nil {
				return err
			}
			if !s.registry.SupportsChain(protocol, chain) {
				return clierr.Newf(clierr.CodeUnsupported, "%s is not available on %s", protocol, chain.Slug)
			}
			return s.emitSuccess(trimRootPath(cmd.CommandPath()), s.registry.Resources(protocol, &chain), nil)
		},
	}
	listCmd.Flags().StringVar(&protocolArg, "protocol", "", "Protocol name")
	listCmd.Flags().StringVar(&chainArg, "chain", "", "Optional chain filter")
	_ = listCmd.MarkFlagRequired("protocol")
	root.AddCommand(listCmd)
	return root
}

func (s *runtimeState) newChainsCommand() *cobra.Command {
	root := &cobra.Command{Use: "chains", Short: "Known chains"}
	root.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List chains the registry can address",
		RunE: func(cmd *cobra.Command, args []string) error {
			return s.emitSuccess(trimRootPath(cmd.CommandPath()), id.KnownChains(), nil)
		},
	})
	return root
}

func (s *runtimeState) newSchemaCommand() *cobra.Command {
	var tools bool
	cmd := &cobra.Command{
		Use:   "schema [command path]",
		Short: "Print machine-readable command schema",
		Args:  cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if tools {
				return s.emitSuccess(trimRootPath(cmd.CommandPath()), schema.Tools(s.catalog.Protocols(), s.registry), nil)
			}
			data, err := schema.Build(s.root, strings.Join(args, " "))
			if err != nil {
				return clierr.Wrap(clierr.CodeUsage, "build schema", err)
			}
			return s.emitSuccess(trimRootPath(cmd.CommandPath()), data, nil)
		},
	}
	cmd.Flags().BoolVar(&tools, "tools", false, "Print one tool definition per enabled protocol verb")
	return cmd
}
