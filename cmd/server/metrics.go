package main

import (
	"fmt"
	"io"

	"meshworld.ai/internal/actors"
	"meshworld.ai/internal/transport/ws"
)

// writeMetrics renders the node in the Prometheus text exposition format.
func writeMetrics(w io.Writer, n *actors.Node, conns ws.Stats) {
	node := n.ID()
	pop := n.Residency.Population()

	fmt.Fprintf(w, "# HELP meshworld_zone_tick Current zone tick.\n")
	fmt.Fprintf(w, "# TYPE meshworld_zone_tick gauge\n")
	for _, id := range n.Zones() {
		sh, _ := n.Shard(id)
		fmt.Fprintf(w, "meshworld_zone_tick{node=%q,zone=\"%d\"} %d\n", node, id, sh.CurrentTick())
	}

	fmt.Fprintf(w, "# HELP meshworld_zone_objects Objects simulated in the zone.\n")
	fmt.Fprintf(w, "# TYPE meshworld_zone_objects gauge\n")
	for _, id := range n.Zones() {
		sh, _ := n.Shard(id)
		fmt.Fprintf(w, "meshworld_zone_objects{node=%q,zone=\"%d\"} %d\n", node, id, sh.Metrics().Objects)
	}

	fmt.Fprintf(w, "# HELP meshworld_zone_residents Sessions resident in the zone.\n")
	fmt.Fprintf(w, "# TYPE meshworld_zone_residents gauge\n")
	for _, id := range n.Zones() {
		fmt.Fprintf(w, "meshworld_zone_residents{node=%q,zone=\"%d\"} %d\n", node, id, pop[id])
	}

	fmt.Fprintf(w, "# HELP meshworld_zone_step_ms Last tick step duration in milliseconds.\n")
	fmt.Fprintf(w, "# TYPE meshworld_zone_step_ms gauge\n")
	for _, id := range n.Zones() {
		sh, _ := n.Shard(id)
		fmt.Fprintf(w, "meshworld_zone_step_ms{node=%q,zone=\"%d\"} %.3f\n", node, id, sh.Metrics().StepMS)
	}

	fmt.Fprintf(w, "# HELP meshworld_zone_overruns_total Ticks that took longer than the tick period.\n")
	fmt.Fprintf(w, "# TYPE meshworld_zone_overruns_total counter\n")
	for _, id := range n.Zones() {
		sh, _ := n.Shard(id)
		fmt.Fprintf(w, "meshworld_zone_overruns_total{node=%q,zone=\"%d\"} %d\n", node, id, sh.Metrics().Overruns)
	}

	fmt.Fprintf(w, "# HELP meshworld_zone_panics_total Ticks aborted by a recovered panic.\n")
	fmt.Fprintf(w, "# TYPE meshworld_zone_panics_total counter\n")
	for _, id := range n.Zones() {
		sh, _ := n.Shard(id)
		fmt.Fprintf(w, "meshworld_zone_panics_total{node=%q,zone=\"%d\"} %d\n", node, id, sh.Metrics().Panics)
	}

	fmt.Fprintf(w, "# HELP meshworld_zone_inbox_depth Shard command backlog.\n")
	fmt.Fprintf(w, "# TYPE meshworld_zone_inbox_depth gauge\n")
	for _, id := range n.Zones() {
		sh, _ := n.Shard(id)
		fmt.Fprintf(w, "meshworld_zone_inbox_depth{node=%q,zone=\"%d\"} %d\n", node, id, sh.Metrics().InboxDepth)
	}

	fmt.Fprintf(w, "# HELP meshworld_sessions Connected sessions.\n")
	fmt.Fprintf(w, "# TYPE meshworld_sessions gauge\n")
	fmt.Fprintf(w, "meshworld_sessions{node=%q} %d\n", node, n.SessionCount())

	fmt.Fprintf(w, "# HELP meshworld_ws_connections Open websocket connections.\n")
	fmt.Fprintf(w, "# TYPE meshworld_ws_connections gauge\n")
	fmt.Fprintf(w, "meshworld_ws_connections{node=%q} %d\n", node, conns.Open)

	fmt.Fprintf(w, "# HELP meshworld_ws_frames_total Inbound websocket frames.\n")
	fmt.Fprintf(w, "# TYPE meshworld_ws_frames_total counter\n")
	fmt.Fprintf(w, "meshworld_ws_frames_total{node=%q,kind=%q} %d\n", node, "binary", conns.Frames)
	fmt.Fprintf(w, "meshworld_ws_frames_total{node=%q,kind=%q} %d\n", node, "rejected", conns.Rejected)

	d := n.Dispatcher.Stats()
	fmt.Fprintf(w, "# HELP meshworld_dispatch_total Inbound and outbound dispatch outcomes.\n")
	fmt.Fprintf(w, "# TYPE meshworld_dispatch_total counter\n")
	fmt.Fprintf(w, "meshworld_dispatch_total{node=%q,result=%q} %d\n", node, "decoded", d.Decoded)
	fmt.Fprintf(w, "meshworld_dispatch_total{node=%q,result=%q} %d\n", node, "delivered", d.Delivered)
	fmt.Fprintf(w, "meshworld_dispatch_total{node=%q,result=%q} %d\n", node, "decode_error", d.DecodeErrors)
	fmt.Fprintf(w, "meshworld_dispatch_total{node=%q,result=%q} %d\n", node, "route_error", d.RouteErrors)
	fmt.Fprintf(w, "meshworld_dispatch_total{node=%q,result=%q} %d\n", node, "location_error", d.LocationErrors)
	fmt.Fprintf(w, "meshworld_dispatch_total{node=%q,result=%q} %d\n", node, "rejection", d.Rejections)

	posted, dropped := n.Postbox.Stats()
	fmt.Fprintf(w, "# HELP meshworld_mailbox_total Envelopes posted to local mailboxes.\n")
	fmt.Fprintf(w, "# TYPE meshworld_mailbox_total counter\n")
	fmt.Fprintf(w, "meshworld_mailbox_total{node=%q,result=%q} %d\n", node, "posted", posted)
	fmt.Fprintf(w, "meshworld_mailbox_total{node=%q,result=%q} %d\n", node, "dropped", dropped)

	ps := n.Pipeline.Stats()
	fmt.Fprintf(w, "# HELP meshworld_notify_total Notification pipeline counters.\n")
	fmt.Fprintf(w, "# TYPE meshworld_notify_total counter\n")
	fmt.Fprintf(w, "meshworld_notify_total{node=%q,kind=%q} %d\n", node, "moved", ps.Moved)
	fmt.Fprintf(w, "meshworld_notify_total{node=%q,kind=%q} %d\n", node, "sent", ps.Sent)
	fmt.Fprintf(w, "meshworld_notify_total{node=%q,kind=%q} %d\n", node, "failed", ps.Failed)
	fmt.Fprintf(w, "meshworld_notify_total{node=%q,kind=%q} %d\n", node, "collisions", ps.Collisions)
}
