package rt

import (
	"fmt"
	"strings"
)

var primitiveTable = []struct {
	name string
	sig  byte
	size uint64
}{
	{"byte", 'B', 1},
	{"short", 'S', 2},
	{"int", 'I', 4},
	{"long", 'J', 8},
	{"boolean", 'Z', 1},
	{"char", 'C', 2},
	{"float", 'F', 4},
	{"double", 'D', 8},
	{"void", 'V', 0},
}

func (rt *Runtime) definePrimitive(name string, sig byte, size uint64) {
	rt.defineMu.Lock()
	defer rt.defineMu.Unlock()

	c := &Class{
		rt:       rt,
		Name:     rt.mustUtf8(name),
		Flags:    AccPublic | AccFinal | AccAbstract,
		primSig:  sig,
		elemSize: size,
		size:     size,
	}
	if err := rt.install(c, nil, 0); err != nil {
		rt.Abort(FatalBootstrap, err.Error())
	}
	rt.markInitialized(c)
	rt.publish(c)
	rt.prims[sig] = c
}

// PrimClass returns the primitive class for a signature character
// (B S I J Z C F D V).
func (rt *Runtime) PrimClass(sig byte) (*Class, bool) {
	c, ok := rt.prims[sig]
	return c, ok
}

func descriptorOf(c *Class) string {
	switch {
	case c.IsPrimitive():
		return string(c.primSig)
	case c.IsArray():
		return c.Name.String()
	}
	return "L" + c.Name.String() + ";"
}

// FindArrayClass returns the class of arrays of elem, creating it on first
// use. Array classes extend Object and implement Cloneable and
// Serializable.
func (rt *Runtime) FindArrayClass(elem *Class) (*Class, error) {
	if elem == nil {
		return nil, fmt.Errorf("array of nil element class")
	}
	if ac := elem.arrayClass.Load(); ac != nil {
		return ac, nil
	}
	if elem.IsPrimitive() && elem.elemSize == 0 {
		return nil, fmt.Errorf("no arrays of %s", elem)
	}

	rt.defineMu.Lock()
	defer rt.defineMu.Unlock()
	if ac := elem.arrayClass.Load(); ac != nil {
		return ac, nil
	}

	name, err := rt.MakeUtf8Const("[" + descriptorOf(elem))
	if err != nil {
		return nil, err
	}
	c := &Class{
		rt:      rt,
		Name:    name,
		Flags:   AccPublic | AccFinal | AccAbstract,
		Super:   rt.object,
		element: elem,
		size:    ArrayHeaderSize,
	}
	for _, i := range []*Class{rt.cloneable, rt.serializable} {
		if i != nil {
			c.Interfaces = append(c.Interfaces, i)
		}
	}
	slots := append([]*Method(nil), rt.object.vtable.Methods...)
	if err := rt.install(c, slots, 0); err != nil {
		return nil, err
	}
	rt.markInitialized(c)
	rt.publish(c)
	elem.arrayClass.Store(c)
	if elem.IsPrimitive() {
		rt.writeClassWord(elem, classMethodsSlot, c.addr)
	}
	return c, nil
}

// FindClassFromSignature resolves a type descriptor such as "I", "[J" or
// "Ljava/lang/Object;".
func (rt *Runtime) FindClassFromSignature(sig string) (*Class, error) {
	if sig == "" {
		return nil, fmt.Errorf("empty signature")
	}
	switch sig[0] {
	case '[':
		elem, err := rt.FindClassFromSignature(sig[1:])
		if err != nil {
			return nil, err
		}
		return rt.FindArrayClass(elem)
	case 'L':
		if len(sig) < 3 || !strings.HasSuffix(sig, ";") {
			return nil, fmt.Errorf("malformed signature %q", sig)
		}
		return rt.FindClass(strings.ReplaceAll(sig[1:len(sig)-1], "/", "."))
	}
	if len(sig) == 1 {
		if c, ok := rt.prims[sig[0]]; ok {
			return c, nil
		}
	}
	return nil, fmt.Errorf("malformed signature %q", sig)
}
