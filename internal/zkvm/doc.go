// Package zkvm models the proving host that runs the commitment programs: it
// frames the ordered private inputs, executes a registered program once and
// collects the ordered public values the program commits. Proof generation
// itself happens outside this package.
package zkvm
