package cmd

import (
	"errors"
	"fmt"
	"io"
	"net/url"
	"strconv"
	"time"

	"github.com/spf13/cobra"
)

var getCmd = &cobra.Command{
	Use:   "get",
	Short: "List resources",
}

var describeCmd = &cobra.Command{
	Use:   "describe",
	Short: "Show details of a resource",
}

var createCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a resource",
}

var getScansCmd = &cobra.Command{
	Use:     "scans",
	Aliases: []string{"scan"},
	Short:   "List the tenant's recent scans",
	RunE:    runGetScans,
}

var getScoreCmd = &cobra.Command{
	Use:   "score",
	Short: "Show the tenant's current security score",
	RunE:  runGetScore,
}

var describeScanCmd = &cobra.Command{
	Use:   "scan ID",
	Short: "Show details of a scan",
	Args:  cobra.ExactArgs(1),
	RunE:  runDescribeScan,
}

var createScanCmd = &cobra.Command{
	Use:   "scan KIND",
	Short: "Start a discovery or comprehensive scan",
	Long: `Start a scan for the current tenant.

KIND is "discovery" or "comprehensive". When a scan of the same kind is
already in flight the server returns that scan instead of starting another.`,
	Args: cobra.ExactArgs(1),
	RunE: runCreateScan,
}

func init() {
	getScansCmd.Flags().Int("limit", 0, "Maximum number of scans to list")

	createScanCmd.Flags().Bool("wait", false, "Wait until the scan completes or fails")
	createScanCmd.Flags().Duration("poll-interval", 2*time.Second, "Polling interval used with --wait")
	createScanCmd.Flags().Duration("timeout", 15*time.Minute, "Maximum time to wait with --wait")

	getCmd.AddCommand(getScansCmd, getScoreCmd)
	describeCmd.AddCommand(describeScanCmd)
	createCmd.AddCommand(createScanCmd)
}

func runGetScans(cmd *cobra.Command, args []string) error {
	client, err := newClient(cmd, true)
	if err != nil {
		return err
	}

	path := "/api/v1/scans"
	if v, _ := cmd.Flags().GetInt("limit"); v > 0 {
		path += "?" + url.Values{"limit": {strconv.Itoa(v)}}.Encode()
	}

	data, err := client.Get(cmd.Context(), path)
	if err != nil {
		return err
	}

	var resp ScanListResponse
	if err := unmarshal(data, &resp); err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if done, err := printStructured(out, resp); done {
		return err
	}

	if len(resp.Data) == 0 {
		fmt.Fprintln(out, "No resources found.")
		return nil
	}

	if flagOutput == outputWide {
		t := newTable(out, "ID", "KIND", "STATE", "CREATED", "DURATION", "ASSETS", "FINDINGS", "ALERTS", "ERROR")
		for _, s := range resp.Data {
			assets, findings, alerts := "-", "-", "-"
			if s.Result != nil {
				assets = strconv.Itoa(s.Result.AssetsScanned + s.Result.AssetsDiscovered)
				findings = strconv.Itoa(s.Result.Findings)
				alerts = strconv.Itoa(s.Result.Alerts)
			}
			t.AddRow(s.ID, s.Kind, s.State, shortTime(s.CreatedAt), orDash(s.Duration), assets, findings, alerts, orDash(s.Error))
		}
		t.Flush()
		return nil
	}

	t := newTable(out, "ID", "KIND", "STATE", "CREATED", "DURATION")
	for _, s := range resp.Data {
		t.AddRow(s.ID, s.Kind, s.State, shortTime(s.CreatedAt), orDash(s.Duration))
	}
	t.Flush()
	return nil
}

func runGetScore(cmd *cobra.Command, args []string) error {
	client, err := newClient(cmd, true)
	if err != nil {
		return err
	}

	data, err := client.Get(cmd.Context(), "/api/v1/security/score")
	if err != nil {
		return err
	}

	var resp ScoreResponse
	if err := unmarshal(data, &resp); err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if done, err := printStructured(out, resp); done {
		return err
	}

	stale := ""
	if resp.Stale {
		stale = " (stale)"
	}
	fmt.Fprintf(out, "Score:              %d/100%s\n", resp.Score, stale)
	fmt.Fprintf(out, "Assets:             %d (%d vulnerable)\n", resp.TotalAssets, resp.VulnerableAssets)
	fmt.Fprintf(out, "Critical vulns:     %d open\n", resp.CriticalOpenVulns)
	fmt.Fprintf(out, "Active alerts:      %d\n", resp.ActiveAlerts)
	fmt.Fprintf(out, "MFA:                %d/%d users\n", resp.MFAEnabledUsers, resp.TotalUsers)
	fmt.Fprintf(out, "Computed at:        %s\n", shortTime(resp.Timestamp))
	return nil
}

func runDescribeScan(cmd *cobra.Command, args []string) error {
	client, err := newClient(cmd, true)
	if err != nil {
		return err
	}

	scan, err := fetchScan(cmd, client, args[0])
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if done, err := printStructured(out, scan); done {
		return err
	}
	describeScan(out, scan)
	return nil
}

func runCreateScan(cmd *cobra.Command, args []string) error {
	client, err := newClient(cmd, true)
	if err != nil {
		return err
	}

	data, err := client.Post(cmd.Context(), "/api/v1/scans", map[string]string{"kind": args[0]})
	if err != nil {
		return err
	}

	var started StartScanResponse
	if err := unmarshal(data, &started); err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	wait, _ := cmd.Flags().GetBool("wait")
	if !wait {
		if done, err := printStructured(out, started); done {
			return err
		}
		verb := "started"
		if started.Coalesced {
			verb = "already in flight"
		}
		fmt.Fprintf(out, "scan/%s %s (%s)\n", started.ScanID, verb, started.Kind)
		return nil
	}

	interval, _ := cmd.Flags().GetDuration("poll-interval")
	timeout, _ := cmd.Flags().GetDuration("timeout")
	scan, err := waitForScan(cmd, client, started.ScanID, interval, timeout)
	if err != nil {
		return err
	}

	if done, err := printStructured(out, scan); done {
		return err
	}
	describeScan(out, scan)
	if scan.State == "failed" {
		return fmt.Errorf("scan %s failed: %s", scan.ID, scan.Error)
	}
	return nil
}

func fetchScan(cmd *cobra.Command, client *Client, id string) (ScanResponse, error) {
	var scan ScanResponse
	data, err := client.Get(cmd.Context(), "/api/v1/scans/"+url.PathEscape(id))
	if err != nil {
		return scan, err
	}
	return scan, unmarshal(data, &scan)
}

func waitForScan(cmd *cobra.Command, client *Client, id string, interval, timeout time.Duration) (ScanResponse, error) {
	deadline := time.After(timeout)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		scan, err := fetchScan(cmd, client, id)
		if err != nil {
			return scan, err
		}
		if scan.Terminal() {
			return scan, nil
		}

		select {
		case <-ticker.C:
		case <-deadline:
			return scan, errors.New("timed out waiting for scan " + id)
		case <-cmd.Context().Done():
			return scan, cmd.Context().Err()
		}
	}
}

func describeScan(out io.Writer, s ScanResponse) {
	fmt.Fprintf(out, "ID:          %s\n", s.ID)
	fmt.Fprintf(out, "Kind:        %s\n", s.Kind)
	fmt.Fprintf(out, "State:       %s\n", s.State)
	fmt.Fprintf(out, "Created:     %s\n", shortTime(s.CreatedAt))
	fmt.Fprintf(out, "Started:     %s\n", ptrStr(s.StartedAt))
	fmt.Fprintf(out, "Finished:    %s\n", ptrStr(s.FinishedAt))
	fmt.Fprintf(out, "Duration:    %s\n", orDash(s.Duration))
	if s.Error != "" {
		fmt.Fprintf(out, "Error:       %s\n", s.Error)
	}
	if r := s.Result; r != nil {
		fmt.Fprintln(out, "\nResult:")
		fmt.Fprintf(out, "  Assets discovered:  %d (%d new)\n", r.AssetsDiscovered, r.AssetsCreated)
		fmt.Fprintf(out, "  Assets scanned:     %d\n", r.AssetsScanned)
		fmt.Fprintf(out, "  Findings:           %d\n", r.Findings)
		fmt.Fprintf(out, "  Vulnerabilities:    %d\n", r.Vulnerabilities)
		fmt.Fprintf(out, "  Alerts:             %d\n", r.Alerts)
		fmt.Fprintf(out, "  Failed:             %d\n", r.Failed)
	}
}
