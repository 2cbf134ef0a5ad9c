// Package loader turns a loosely specified startup name into a bound entry
// point.
//
// A startup name has the form
//
//	[Method.]Type.Name[, Module]
//
// or is empty. Resolution works as follows:
//   - Empty names are replaced by the first "Startup" or "<Module>.Startup"
//     type declared by a descriptor in the search directories.
//   - With an explicit module, the name is looked up in that module only.
//   - Without one, every dot prefix of the name shorter than the name itself
//     is tried as a module name, longest first.
//   - Within a module, the full name and the name minus its last segment are
//     tried as type names; in the second case the last segment is the method.
//   - When nothing matches, the next Resolver in the chain is asked.
//
// The binder then inspects the method's signature and produces a Startup
// that configures an owin.Builder.
package loader
