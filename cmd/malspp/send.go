package main

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"avaneesh/malspp-go/pkg/mal"
	"avaneesh/malspp-go/pkg/malspp"
	"avaneesh/malspp-go/pkg/registry"
	"avaneesh/malspp-go/pkg/transport"
)

var (
	sendFrom        string
	sendInteraction string
	sendArea        uint16
	sendAreaVersion uint8
	sendService     uint16
	sendOperation   uint16
	sendWait        time.Duration
)

var sendCmd = &cobra.Command{
	Use:   "send <uri> [element...]",
	Short: "Start one interaction and print its replies",
	Long: `Send the initiator stage of an operation to <uri> and wait for the
replies of its pattern. Each element argument is parsed as a YAML value,
so 7 is an integer, "7" a string and [1, 2] a list.`,
	Example: `  malspp send malspp:247/200 --interaction submit --area 1000 --service 1 --op 1 hello 7`,
	Args:    cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		to, err := transport.ParseURI(args[0])
		if err != nil {
			return fmt.Errorf("invalid destination: %w", err)
		}
		elements, err := parseElements(args[1:])
		if err != nil {
			return err
		}
		from, err := sourceAddress()
		if err != nil {
			return err
		}

		m, epConfig, err := startNode()
		if err != nil {
			return err
		}
		defer m.Shutdown()

		op, err := resolveOperation(epConfig.Registry)
		if err != nil {
			return err
		}

		replies := make(chan *malspp.Delivery, 16)
		ep, err := m.CreateEndpoint(cfg.Name, from, epConfig, malspp.HandlerFunc(func(d *malspp.Delivery) {
			replies <- d
		}))
		if err != nil {
			return err
		}

		ctx, cancel := context.WithTimeout(cmd.Context(), sendWait)
		defer cancel()

		out := cmd.OutOrStdout()
		tid, err := ep.Initiate(ctx, to, op, 1, elements...)
		if err != nil {
			return fmt.Errorf("failed to send: %w", err)
		}
		fmt.Fprintf(out, "Sent %s %s to %s, transaction %d\n", op.Interaction, op.Name, to.URI(), tid)

		last := finalStage(op.Interaction)
		if last == 0 {
			return nil
		}
		for {
			select {
			case d := <-replies:
				if d.Header.TransactionID != tid {
					continue
				}
				printDelivery(out, d)
				if d.Header.IsError || d.Stage == last {
					return nil
				}
			case <-ctx.Done():
				return errors.New("timed out waiting for reply")
			}
		}
	},
}

// parseElements converts each argument from YAML to a generic value.
func parseElements(args []string) ([]any, error) {
	elements := make([]any, 0, len(args))
	for _, arg := range args {
		var v any
		if err := yaml.Unmarshal([]byte(arg), &v); err != nil {
			return nil, fmt.Errorf("element %q: %w", arg, err)
		}
		elements = append(elements, v)
	}
	return elements, nil
}

// sourceAddress returns --from, or the first configured endpoint.
func sourceAddress() (transport.Address, error) {
	if sendFrom != "" {
		return transport.ParseURI(sendFrom)
	}
	addrs, err := cfg.EndpointAddresses()
	if err != nil {
		return transport.Address{}, err
	}
	if len(addrs) == 0 {
		return transport.Address{}, errors.New("no source endpoint: set --from or configure endpoints")
	}
	return addrs[0], nil
}

// resolveOperation looks the operation up in reg when one is
// configured, and otherwise builds it from the flags.
func resolveOperation(reg registry.Registry) (registry.Operation, error) {
	if reg != nil {
		op, err := reg.Operation(sendArea, sendAreaVersion, sendService, sendOperation)
		if err == nil {
			return op, nil
		}
		if !errors.Is(err, registry.ErrUnknownOperation) && !errors.Is(err, registry.ErrUnknownService) && !errors.Is(err, registry.ErrUnknownArea) {
			return registry.Operation{}, err
		}
	}
	interaction, err := mal.ParseInteractionType(strings.ToUpper(sendInteraction))
	if err != nil {
		return registry.Operation{}, err
	}
	return registry.Operation{
		Area:        sendArea,
		AreaVersion: sendAreaVersion,
		Service:     sendService,
		Number:      sendOperation,
		Name:        fmt.Sprintf("op%d", sendOperation),
		Interaction: interaction,
	}, nil
}

// finalStage returns the stage that completes a pattern, or 0 when the
// initiator expects no reply.
func finalStage(i mal.InteractionType) mal.Stage {
	switch i {
	case mal.InteractionSubmit:
		return mal.StageSubmitAck
	case mal.InteractionRequest:
		return mal.StageRequestResponse
	case mal.InteractionInvoke:
		return mal.StageInvokeResponse
	case mal.InteractionProgress:
		return mal.StageProgressResponse
	default:
		return 0
	}
}

func init() {
	sendCmd.Flags().StringVar(&sendFrom, "from", "", "source endpoint URI (default is the first configured endpoint)")
	sendCmd.Flags().StringVar(&sendInteraction, "interaction", "send", "pattern when the operation is not in the registry: send, submit, request, invoke, progress")
	sendCmd.Flags().Uint16Var(&sendArea, "area", 0, "area number")
	sendCmd.Flags().Uint8Var(&sendAreaVersion, "area-version", 1, "area version")
	sendCmd.Flags().Uint16Var(&sendService, "service", 0, "service number")
	sendCmd.Flags().Uint16Var(&sendOperation, "op", 0, "operation number")
	sendCmd.Flags().DurationVar(&sendWait, "wait", 10*time.Second, "how long to wait for replies")
	rootCmd.AddCommand(sendCmd)
}
