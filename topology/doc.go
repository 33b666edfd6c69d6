// Package topology loads exchange, queue and binding declarations from JSON,
// YAML or TOML files and applies them to a broker.
//
//	cfg, err := topology.LoadFile("topology.yaml")
//	if err != nil {
//		return err
//	}
//	err = topology.NewTopologer(broker).BuildTopology(ctx, cfg, false)
package topology
