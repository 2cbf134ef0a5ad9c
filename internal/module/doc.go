// Package module is the type registry behind convention-based startup.
//
// Go has no runtime type-by-name lookup, so every application module is
// compiled in and describes itself: a Module registers its types into a
// Table when it is loaded, and the Catalog maps module names to Modules.
// Types are looked up by their full dotted name ("Hello.Startup"), and their
// methods by name, with signatures recovered through reflection.
//
// Modules on disk are represented by descriptor files (<Name>.yaml). A
// descriptor lists the types a module exports and can be inspected without
// running the module's Register hook, which is what the default startup
// search relies on.
package module
