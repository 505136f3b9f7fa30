// Package main – admin subcommand: live replication table rendered with bubbletea + lipgloss.
package main

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	admingrpc "github.com/i-melnichenko/pbkv/internal/transport/grpc/admin"
)

const adminRefreshInterval = 500 * time.Millisecond

// ---- Data types -------------------------------------------------------------

type adminConn struct {
	addr   string
	client *admingrpc.Client
}

type adminRow struct {
	addr     string
	nodeID   string
	role     string
	status   string
	primary  string
	backups  string
	keys     int
	hbAge    time.Duration
	failover time.Duration
	err      string
}

// ---- Bubbletea messages -----------------------------------------------------

type tickMsg time.Time

type rowsMsg struct {
	rows []adminRow
	ts   time.Time
}

// ---- Lipgloss styles --------------------------------------------------------

type uiStyles struct {
	dotHealthy   lipgloss.Style
	dotDegraded  lipgloss.Style
	dotUnavail   lipgloss.Style
	dotUnknown   lipgloss.Style
	dotSelected  lipgloss.Style
	addr         lipgloss.Style
	rolePrimary  lipgloss.Style
	roleBackup   lipgloss.Style
	roleAlone    lipgloss.Style
	roleDisabled lipgloss.Style
	primaryVal   lipgloss.Style
	metric       lipgloss.Style
	hbFresh      lipgloss.Style
	hbStale      lipgloss.Style
	tableHeader  lipgloss.Style
	appHeader    lipgloss.Style
	tsStyle      lipgloss.Style
	footer       lipgloss.Style
	divider      lipgloss.Style
	alertsHdr    lipgloss.Style
	alertKind    lipgloss.Style
	errorDot     lipgloss.Style
	errorKindSty lipgloss.Style
	paneLabel    lipgloss.Style
	paneValue    lipgloss.Style
	sumDim       lipgloss.Style
	sumHealthy   lipgloss.Style
	sumErrors    lipgloss.Style
	sumPrimary   lipgloss.Style
	sumBackup    lipgloss.Style
}

var styles = buildStyles()

func buildStyles() uiStyles {
	// "1"=red  "2"=green  "3"=yellow  "4"=blue  "5"=magenta  "6"=cyan
	// "7"=white  "8"=bright-black
	return uiStyles{
		dotHealthy:   lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("2")),
		dotDegraded:  lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("3")),
		dotUnavail:   lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("1")),
		dotUnknown:   lipgloss.NewStyle().Faint(true),
		dotSelected:  lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("6")),
		addr:         lipgloss.NewStyle().Faint(true).Foreground(lipgloss.Color("6")),
		rolePrimary:  lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("2")),
		roleBackup:   lipgloss.NewStyle().Foreground(lipgloss.Color("4")),
		roleAlone:    lipgloss.NewStyle().Foreground(lipgloss.Color("3")),
		roleDisabled: lipgloss.NewStyle().Faint(true),
		primaryVal:   lipgloss.NewStyle().Foreground(lipgloss.Color("6")),
		metric:       lipgloss.NewStyle().Faint(true),
		hbFresh:      lipgloss.NewStyle().Faint(true),
		hbStale:      lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("3")),
		tableHeader:  lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("7")).Background(lipgloss.Color("8")),
		appHeader:    lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("6")),
		tsStyle:      lipgloss.NewStyle().Faint(true),
		footer:       lipgloss.NewStyle().Faint(true),
		divider:      lipgloss.NewStyle().Faint(true),
		alertsHdr:    lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("3")),
		alertKind:    lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("3")),
		errorDot:     lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("1")),
		errorKindSty: lipgloss.NewStyle().Foreground(lipgloss.Color("1")),
		paneLabel:    lipgloss.NewStyle().Foreground(lipgloss.Color("6")),
		paneValue:    lipgloss.NewStyle().Faint(true),
		sumDim:       lipgloss.NewStyle().Faint(true),
		sumHealthy:   lipgloss.NewStyle().Foreground(lipgloss.Color("2")),
		sumErrors:    lipgloss.NewStyle().Foreground(lipgloss.Color("1")),
		sumPrimary:   lipgloss.NewStyle().Foreground(lipgloss.Color("2")),
		sumBackup:    lipgloss.NewStyle().Foreground(lipgloss.Color("4")),
	}
}

// ---- Column widths ----------------------------------------------------------

type adminColWidths struct {
	addr    int
	node    int
	role    int
	primary int
}

// Fixed chars: ST(2)+KEYS(6)+HB_AGE(7)+6 spaces.
const adminFixedWidth = 21

// adminColumnsForWidth computes variable column widths to fill contentWidth.
func adminColumnsForWidth(rows []adminRow, contentWidth int) adminColWidths {
	maxAddr := len("ADDR")
	maxNode := len("NODE")
	maxRole := len("ROLE")
	maxPrimary := len("PRIMARY")
	for _, r := range rows {
		maxAddr = maxInt(maxAddr, len(r.addr))
		maxNode = maxInt(maxNode, len(r.nodeID))
		maxRole = maxInt(maxRole, len(r.role))
		maxPrimary = maxInt(maxPrimary, len(r.primary))
	}
	col := adminColWidths{
		addr:    clampInt(maxAddr, 8, 21),
		node:    clampInt(maxNode, 4, 10),
		role:    clampInt(maxRole, 6, 10),
		primary: clampInt(maxPrimary, 4, 21),
	}

	targetVar := contentWidth - adminFixedWidth
	if targetVar <= 0 {
		return col
	}
	deficit := col.addr + col.node + col.role + col.primary - targetVar
	if deficit <= 0 {
		return col
	}
	// Narrow terminal: shrink variable columns down to minimums.
	for _, s := range []struct {
		cur *int
		min int
	}{
		{&col.primary, 4},
		{&col.addr, 6},
		{&col.node, 4},
		{&col.role, 6},
	} {
		if deficit == 0 {
			break
		}
		capacity := *s.cur - s.min
		if capacity <= 0 {
			continue
		}
		delta := minInt(deficit, capacity)
		*s.cur -= delta
		deficit -= delta
	}
	return col
}

// ---- Cell renderers ---------------------------------------------------------
// Each renderer pads the raw value to `width` visible chars, then applies a
// lipgloss style.

func renderStatusDot(status, errStr string, selected bool) string {
	if selected {
		return styles.dotSelected.Render("▶") + " "
	}
	if errStr != "" {
		return styles.dotUnavail.Render("●") + " "
	}
	switch status {
	case "healthy":
		return styles.dotHealthy.Render("●") + " "
	case "degraded":
		return styles.dotDegraded.Render("●") + " "
	default:
		return styles.dotUnknown.Render("·") + " "
	}
}

func renderAddrCell(s string, width int) string {
	return styles.addr.Render(fmt.Sprintf("%-*s", width, shorten(s, width)))
}

func renderRoleCell(s string, width int) string {
	padded := fmt.Sprintf("%-*s", width, shorten(s, width))
	switch s {
	case "primary":
		return styles.rolePrimary.Render(padded)
	case "backup":
		return styles.roleBackup.Render(padded)
	case "standalone":
		return styles.roleAlone.Render(padded)
	default:
		return styles.roleDisabled.Render(padded)
	}
}

func renderPrimaryCell(s string, width int) string {
	if s == "" {
		return styles.metric.Render(fmt.Sprintf("%-*s", width, "-"))
	}
	return styles.primaryVal.Render(fmt.Sprintf("%-*s", width, shorten(s, width)))
}

func renderHeartbeatCell(r adminRow, width int) string {
	if r.role != "backup" {
		return styles.metric.Render(fmt.Sprintf("%*s", width, "-"))
	}
	padded := fmt.Sprintf("%*s", width, formatAge(r.hbAge))
	if r.status == "degraded" {
		return styles.hbStale.Render(padded)
	}
	return styles.hbFresh.Render(padded)
}

// makeTableRow builds the single-line string for one admin row.
// selected=true replaces the status dot with the cursor arrow ▶.
func makeTableRow(r adminRow, cols adminColWidths, selected bool) string {
	dot := renderStatusDot(r.status, r.err, selected)

	if r.err != "" {
		dash := "-"
		return dot + " " +
			renderAddrCell(r.addr, cols.addr) +
			" " + fmt.Sprintf("%-*s", cols.node, dash) +
			" " + fmt.Sprintf("%-*s", cols.role, dash) +
			" " + fmt.Sprintf("%-*s", cols.primary, dash) +
			" " + fmt.Sprintf("%6s", dash) +
			" " + fmt.Sprintf("%7s", dash)
	}

	return dot + " " +
		renderAddrCell(r.addr, cols.addr) +
		" " + fmt.Sprintf("%-*s", cols.node, shorten(r.nodeID, cols.node)) +
		" " + renderRoleCell(r.role, cols.role) +
		" " + renderPrimaryCell(r.primary, cols.primary) +
		" " + styles.metric.Render(fmt.Sprintf("%6d", r.keys)) +
		" " + renderHeartbeatCell(r, 7)
}

// renderHeader returns the styled table header line padded to contentWidth.
func renderHeader(cols adminColWidths, contentWidth int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%-2s", "ST")
	fmt.Fprintf(&b, " %-*s", cols.addr, headerLabel("ADDR", cols.addr))
	fmt.Fprintf(&b, " %-*s", cols.node, headerLabel("NODE", cols.node))
	fmt.Fprintf(&b, " %-*s", cols.role, headerLabel("ROLE", cols.role))
	fmt.Fprintf(&b, " %-*s", cols.primary, headerLabel("PRIMARY", cols.primary))
	fmt.Fprintf(&b, " %6s", "KEYS")
	fmt.Fprintf(&b, " %7s", "HB_AGE")
	return styles.tableHeader.Width(contentWidth).MaxWidth(contentWidth).Render(b.String())
}

// renderSummary returns the "[N total] [N healthy] ..." line.
func renderSummary(rows []adminRow) string {
	healthy, errorsN, primaries, backups := 0, 0, 0, 0
	for _, r := range rows {
		if r.err != "" {
			errorsN++
			continue
		}
		if r.status == "healthy" {
			healthy++
		}
		switch r.role {
		case "primary":
			primaries++
		case "backup":
			backups++
		}
	}
	bracket := func(st lipgloss.Style, label string, n int) string {
		d := styles.sumDim
		return d.Render("[") + st.Render(fmt.Sprintf("%d", n)) + d.Render(" "+label+"]")
	}
	return strings.Join([]string{
		bracket(lipgloss.NewStyle(), "total", len(rows)),
		bracket(styles.sumHealthy, "healthy", healthy),
		bracket(styles.sumErrors, "errors", errorsN),
		bracket(styles.sumPrimary, "primary", primaries),
		bracket(styles.sumBackup, "backup", backups),
	}, " ")
}

// buildAlertLines returns alert lines (without the divider/header).
func buildAlertLines(rows []adminRow, contentWidth int) []string {
	var lines []string

	primaries, backups := countRoles(rows)
	switch {
	case len(primaries) > 1:
		lines = append(lines, fmt.Sprintf("%s %s (split brain)",
			styles.alertKind.Render("MULTIPLE_PRIMARIES"),
			strings.Join(primaries, ","),
		))
	case len(primaries) == 0 && backups > 0:
		lines = append(lines, fmt.Sprintf("%s backups=%d (failover pending)",
			styles.alertKind.Render("PRIMARY_MISSING"),
			backups,
		))
	}

	for _, r := range rows {
		if r.err == "" && r.status == "degraded" {
			lines = append(lines, fmt.Sprintf("%s %s heartbeat_age=%s failover_timeout=%s",
				styles.alertKind.Render("HEARTBEAT_STALE"),
				r.addr,
				formatAge(r.hbAge),
				formatAge(r.failover),
			))
		}
	}

	for _, r := range rows {
		if r.err == "" {
			continue
		}
		summary := shorten(errorSummary(r.err), maxInt(20, contentWidth-28))
		lines = append(lines, fmt.Sprintf("%s %s %s %s",
			styles.errorDot.Render("●"),
			r.addr,
			styles.errorKindSty.Render(errorKind(r.err)),
			summary,
		))
	}
	return lines
}

// ---- Bubbletea model --------------------------------------------------------

type adminModel struct {
	rows       []adminRow
	ts         time.Time
	conns      []adminConn
	timeout    time.Duration
	width      int
	height     int
	cursor     int
	scrollOff  int
	selectedID string
	cols       adminColWidths
}

func newAdminModel(conns []adminConn, timeout time.Duration) adminModel {
	return adminModel{
		conns:   conns,
		timeout: timeout,
		width:   120,
		height:  40,
	}
}

func (m adminModel) Init() tea.Cmd {
	// rowsMsg schedules the next tick, so exactly one poll is in flight.
	return m.pollCmd()
}

func (m adminModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.recalcCols()
		return m, nil

	case tickMsg:
		return m, m.pollCmd()

	case rowsMsg:
		m.rows = msg.rows
		m.ts = msg.ts
		m.recalcCols()
		m.restoreSelection()
		tickFn := func(t time.Time) tea.Msg { return tickMsg(t) }
		return m, tea.Tick(adminRefreshInterval, tickFn)

	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			return m, tea.Quit
		case "up", "k":
			m.moveCursor(-1)
		case "down", "j":
			m.moveCursor(1)
		}
	}
	return m, nil
}

func (m adminModel) View() string {
	contentWidth := m.contentWidth()

	var b strings.Builder

	b.WriteString("  ")
	b.WriteString(styles.appHeader.Render("Replication view"))
	b.WriteString("  ")
	b.WriteString(styles.tsStyle.Render(m.ts.Format(time.RFC3339)))
	b.WriteString("\n")

	b.WriteString(renderSummary(m.rows))
	b.WriteString("\n\n")

	b.WriteString(renderHeader(m.cols, contentWidth))
	b.WriteString("\n")

	visRows := m.visibleRowCount()
	start := m.scrollOff
	end := minInt(start+visRows, len(m.rows))
	for i := start; i < end; i++ {
		b.WriteString(makeTableRow(m.rows[i], m.cols, i == m.cursor))
		b.WriteString("\n")
	}

	b.WriteString("\n")
	backups := "-"
	if m.cursor >= 0 && m.cursor < len(m.rows) && m.rows[m.cursor].backups != "" {
		backups = m.rows[m.cursor].backups
	}
	b.WriteString("  ")
	b.WriteString(styles.paneLabel.Render("backups:"))
	b.WriteString(" ")
	b.WriteString(styles.paneValue.Render(shorten(backups, maxInt(10, contentWidth-12))))
	b.WriteString("\n")

	alertLines := buildAlertLines(m.rows, contentWidth)
	if len(alertLines) > 0 {
		b.WriteString(styles.divider.Render(strings.Repeat("-", contentWidth)))
		b.WriteString("\n")
		b.WriteString(styles.alertsHdr.Render("Alerts"))
		b.WriteString("\n")
		for _, line := range alertLines {
			b.WriteString(line)
			b.WriteString("\n")
		}
	}

	b.WriteString("\n  ")
	b.WriteString(styles.footer.Render("Ctrl+C to exit"))

	// Pad to terminal height so lines from a taller previous frame are
	// overwritten.
	out := b.String()
	if m.height > 0 {
		lines := strings.Split(out, "\n")
		for len(lines) < m.height {
			lines = append(lines, "")
		}
		return strings.Join(lines, "\n")
	}
	return out
}

// ---- Model helpers ----------------------------------------------------------

func (m adminModel) contentWidth() int {
	if w := m.width - 2; w > 0 {
		return w
	}
	return 80
}

func (m *adminModel) recalcCols() {
	m.cols = adminColumnsForWidth(m.rows, m.contentWidth())
}

func (m *adminModel) restoreSelection() {
	if m.selectedID == "" {
		if len(m.rows) > 0 {
			m.cursor = 0
			m.selectedID = m.rows[0].addr
		}
		return
	}
	for i, r := range m.rows {
		if r.addr == m.selectedID {
			m.cursor = i
			m.clampScroll()
			return
		}
	}
	if m.cursor >= len(m.rows) {
		m.cursor = maxInt(0, len(m.rows)-1)
	}
	if len(m.rows) > 0 {
		m.selectedID = m.rows[m.cursor].addr
	}
}

func (m *adminModel) moveCursor(delta int) {
	if len(m.rows) == 0 {
		return
	}
	m.cursor = clampInt(m.cursor+delta, 0, len(m.rows)-1)
	m.clampScroll()
	m.selectedID = m.rows[m.cursor].addr
}

func (m *adminModel) clampScroll() {
	visRows := m.visibleRowCount()
	if m.cursor < m.scrollOff {
		m.scrollOff = m.cursor
	} else if m.cursor >= m.scrollOff+visRows {
		m.scrollOff = m.cursor - visRows + 1
	}
	if m.scrollOff < 0 {
		m.scrollOff = 0
	}
}

func (m adminModel) visibleRowCount() int {
	// title, summary, blank, header, blank, backups, blank, footer, plus one alert line.
	return maxInt(2, m.height-9)
}

func (m adminModel) pollCmd() tea.Cmd {
	conns := m.conns
	timeout := m.timeout
	return func() tea.Msg {
		rows, ts := pollAdminRows(context.Background(), conns, timeout)
		return rowsMsg{rows: rows, ts: ts}
	}
}

// ---- Polling ----------------------------------------------------------------

func cmdAdmin(addrs []string, timeout time.Duration) error {
	if len(addrs) == 0 {
		return fmt.Errorf("no addresses provided")
	}
	conns, err := openAdminConns(addrs)
	if err != nil {
		return err
	}
	defer closeAdminConns(conns)

	p := tea.NewProgram(newAdminModel(conns, timeout), tea.WithAltScreen())
	_, err = p.Run()
	return err
}

func openAdminConns(addrs []string) ([]adminConn, error) {
	conns := make([]adminConn, 0, len(addrs))
	for _, addr := range addrs {
		client, err := admingrpc.Dial(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
		if err != nil {
			closeAdminConns(conns)
			return nil, fmt.Errorf("dial admin %s: %w", addr, err)
		}
		conns = append(conns, adminConn{addr: addr, client: client})
	}
	return conns, nil
}

func closeAdminConns(conns []adminConn) {
	for _, c := range conns {
		_ = c.client.Close()
	}
}

func pollAdminRows(ctx context.Context, conns []adminConn, timeout time.Duration) ([]adminRow, time.Time) {
	rows := make([]adminRow, len(conns))
	var wg sync.WaitGroup
	wg.Add(len(conns))

	for i, c := range conns {
		go func(i int, c adminConn) {
			defer wg.Done()

			reqCtx, cancel := context.WithTimeout(ctx, timeout)
			info, err := c.client.GetNodeInfo(reqCtx)
			cancel()
			if err != nil {
				rows[i] = adminRow{addr: c.addr, err: err.Error()}
				return
			}
			rows[i] = rowFromInfo(c.addr, info)
		}(i, c)
	}

	wg.Wait()
	sortRows(rows)
	return rows, time.Now()
}

func rowFromInfo(addr string, info admingrpc.NodeInfo) adminRow {
	row := adminRow{
		addr:     addr,
		nodeID:   info.NodeID,
		role:     info.Role,
		primary:  info.PrimaryAddr,
		backups:  strings.Join(info.Backups, ","),
		keys:     info.Keys,
		hbAge:    info.HeartbeatAge,
		failover: info.FailoverTimeout,
		status:   "healthy",
	}
	if !info.ReplicationEnabled {
		row.role = "disabled"
		row.status = "unknown"
		return row
	}
	// A backup past half its failover timeout is likely to promote soon.
	if info.Role == "backup" && info.FailoverTimeout > 0 && info.HeartbeatAge > info.FailoverTimeout/2 {
		row.status = "degraded"
	}
	return row
}

func sortRows(rows []adminRow) {
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].nodeID == rows[j].nodeID {
			return rows[i].addr < rows[j].addr
		}
		if rows[i].nodeID == "" {
			return false
		}
		if rows[j].nodeID == "" {
			return true
		}
		return rows[i].nodeID < rows[j].nodeID
	})
}

func countRoles(rows []adminRow) ([]string, int) {
	var primaries []string
	backups := 0
	for _, r := range rows {
		if r.err != "" {
			continue
		}
		switch r.role {
		case "primary":
			primaries = append(primaries, r.addr)
		case "backup":
			backups++
		}
	}
	return primaries, backups
}

func formatAge(d time.Duration) string {
	switch {
	case d <= 0:
		return "0s"
	case d < time.Second:
		return fmt.Sprintf("%dms", d.Milliseconds())
	case d < time.Minute:
		return fmt.Sprintf("%.1fs", d.Seconds())
	default:
		return d.Truncate(time.Second).String()
	}
}

func errorKind(err string) string {
	switch {
	case strings.Contains(err, "code = Unavailable"):
		return "Unavailable"
	case strings.Contains(err, "code = Unimplemented"):
		return "Unimplemented"
	case strings.Contains(err, "code = DeadlineExceeded"):
		return "Timeout"
	default:
		return "Error"
	}
}

func errorSummary(err string) string {
	return strings.Join(strings.Fields(err), " ")
}

func shorten(s string, n int) string {
	if n <= 0 || len(s) <= n {
		return s
	}
	if n <= 3 {
		return s[:n]
	}
	return s[:n-3] + "..."
}

func headerLabel(label string, width int) string {
	if width <= 0 {
		return ""
	}
	if len(label) <= width {
		return label
	}
	switch label {
	case "PRIMARY":
		if width >= 4 {
			return "PRIM"
		}
	case "ADDR":
		if width >= 2 {
			return "AD"
		}
	case "NODE":
		if width >= 2 {
			return "ND"
		}
	case "ROLE":
		if width >= 2 {
			return "RL"
		}
	}
	return label[:width]
}
