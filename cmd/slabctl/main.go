// Command slabctl inspects and exercises the slabkit chunk allocator.
package main

func main() {
	execute()
}
