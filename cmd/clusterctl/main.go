// clusterctl is a diagnostic tool for the cluster wire protocol: verify and
// decode sentences, craft beacons and sniff a serial line.
package main

import (
	"fmt"
	"os"

	"github.com/davecgh/go-spew/spew"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ShaeOJ/ClusterAxe-sub000/protocol"
	"github.com/ShaeOJ/ClusterAxe-sub000/transport"
)

var rootCmd = &cobra.Command{
	Use:   "clusterctl",
	Short: "ClusterAxe protocol diagnostics",
}

var checkCmd = &cobra.Command{
	Use:   "check <sentence>",
	Short: "Verify a sentence's framing and checksum and decode it",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		typ, fields, err := protocol.Parse([]byte(args[0]))
		if err != nil {
			return err
		}
		fmt.Println("type:", typ)
		switch typ {
		case protocol.TypeWork:
			w, err := protocol.DecodeWork(fields)
			if err != nil {
				return err
			}
			spew.Dump(w)
		case protocol.TypeResult:
			r, err := protocol.DecodeResult(fields)
			if err != nil {
				return err
			}
			spew.Dump(r)
		case protocol.TypeHeartbeat:
			hb, err := protocol.DecodeHeartbeat(fields)
			if err != nil {
				return err
			}
			spew.Dump(hb)
		default:
			spew.Dump(fields)
		}
		return nil
	},
}

var beaconAddr string
var beaconCluster string
var beaconChannel int

var beaconCmd = &cobra.Command{
	Use:   "beacon",
	Short: "Craft a discovery beacon sentence",
	RunE: func(cmd *cobra.Command, args []string) error {
		buf := make([]byte, protocol.MaxSentence)
		n, err := protocol.EncodeBeacon(buf, beaconAddr, beaconCluster, beaconChannel)
		if err != nil {
			return err
		}
		os.Stdout.Write(buf[:n])
		return nil
	},
}

var sniffDevice string
var sniffBaud uint

var sniffCmd = &cobra.Command{
	Use:   "sniff",
	Short: "Print every sentence seen on a serial line",
	RunE: func(cmd *cobra.Command, args []string) error {
		logger, _ := zap.NewDevelopment()
		s := transport.NewSerial(transport.SerialConfig{
			Device:   sniffDevice,
			BaudRate: sniffBaud,
		}, logger)
		s.OnReceive(func(frame []byte, from transport.From) {
			typ, fields, err := protocol.Parse(frame)
			if err != nil {
				fmt.Printf("?? %q (%v)\n", frame, err)
				return
			}
			fmt.Printf("%s %v\n", typ, fields)
		})
		if err := s.Start(); err != nil {
			return err
		}
		select {}
	},
}

func init() {
	beaconCmd.Flags().StringVar(&beaconAddr, "addr", "192.168.4.1:48861", "advertised coordinator address")
	beaconCmd.Flags().StringVar(&beaconCluster, "cluster", "clusteraxe", "cluster id")
	beaconCmd.Flags().IntVar(&beaconChannel, "channel", 1, "radio channel")
	sniffCmd.Flags().StringVar(&sniffDevice, "device", "/dev/ttyAMA0", "serial device")
	sniffCmd.Flags().UintVar(&sniffBaud, "baudrate", 115200, "baud rate")
	rootCmd.AddCommand(checkCmd, beaconCmd, sniffCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
