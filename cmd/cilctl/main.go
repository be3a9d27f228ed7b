// Command cilctl inspects .NET assemblies and rewrites their metadata.
package main

func main() {
	execute()
}
