// Package cli implements the one-shot --stats tabular status report
// described in §10.5. It never talks to a running engine's internals
// directly, only over the same read-only HTTP contract external
// monitoring tooling would use.
package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/olekukonko/tablewriter"
)

type statusResponse struct {
	Role      string       `json:"role"`
	UptimeS   int          `json:"uptime_s"`
	PeerCount int          `json:"peer_count"`
	Slots     []slotStatus `json:"slots"`
}

type slotStatus struct {
	Index         int    `json:"index"`
	Port          int    `json:"port"`
	State         string `json:"state"`
	Peer          string `json:"peer,omitempty"`
	LastIngressAt string `json:"last_ingress_at,omitempty"`
	LastEgressAt  string `json:"last_egress_at,omitempty"`
	PacketsIn     uint64 `json:"packets_in"`
	PacketsOut    uint64 `json:"packets_out"`
	Drops         uint64 `json:"drops"`
}

// PrintStatsReport fetches /status from apiAddr and renders it as a table
// on out. If apiAddr is empty, it reports that no running instance can be
// reached.
func PrintStatsReport(out io.Writer, apiAddr string) error {
	if apiAddr == "" {
		fmt.Fprintln(out, "not running (no --api-addr configured)")
		return nil
	}

	status, err := fetchStatus(apiAddr)
	if err != nil {
		fmt.Fprintf(out, "not running (%v)\n", err)
		return nil
	}

	fmt.Fprintf(out, "role: %s  uptime: %ds  peers: %d\n\n", status.Role, status.UptimeS, status.PeerCount)

	table := tablewriter.NewWriter(out)
	table.SetHeader([]string{"Slot", "State", "Peer", "Last-Ingress", "Last-Egress", "Packets-In", "Packets-Out", "Drops"})

	for _, s := range status.Slots {
		table.Append([]string{
			fmt.Sprintf("%d", s.Index),
			s.State,
			emptyDash(s.Peer),
			emptyDash(s.LastIngressAt),
			emptyDash(s.LastEgressAt),
			fmt.Sprintf("%d", s.PacketsIn),
			fmt.Sprintf("%d", s.PacketsOut),
			fmt.Sprintf("%d", s.Drops),
		})
	}

	table.Render()
	return nil
}

func emptyDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func fetchStatus(apiAddr string) (*statusResponse, error) {
	client := &http.Client{Timeout: 3 * time.Second}
	resp, err := client.Get("http://" + apiAddr + "/status")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status endpoint returned %s", resp.Status)
	}

	var status statusResponse
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		return nil, fmt.Errorf("decode status response: %w", err)
	}
	return &status, nil
}
