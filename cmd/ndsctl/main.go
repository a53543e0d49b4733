// Command ndsctl is an operator CLI over a single NDS process: manager
// path/object/chunk operations and backup task bookkeeping, wrapping ndm
// and backup/storage the way an admin tool sits next to a library.
package main

func main() {
	Execute()
}
