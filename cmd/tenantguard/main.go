// Command tenantguard runs the tenant-scoped policy and audit core.
package main

import "github.com/Sentinel-Gate/tenantguard/cmd/tenantguard/cmd"

func main() {
	cmd.Execute()
}
