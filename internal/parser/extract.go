package parser

import (
	"strings"
)

// --- Go ---

func extractGo(tree *Tree) *Result {
	res := &Result{}
	src := tree.Source

	for _, n := range tree.Root.Children {
		switch n.Type {
		case "import_declaration":
			res.Imports = append(res.Imports, goImports(n, src)...)

		case "function_declaration":
			name := n.Child("identifier").Content(src)
			if name == "" {
				continue
			}
			sym := makeSymbol(n, src, name, name, KindFunction, "//")
			res.Symbols = append(res.Symbols, sym)
			collectCalls(n, src, sym.Local, res, goCallee)

		case "method_declaration":
			name := n.Child("field_identifier").Content(src)
			if name == "" {
				continue
			}
			local := name
			if recv := goReceiverType(n, src); recv != "" {
				local = recv + "." + name
			}
			sym := makeSymbol(n, src, name, local, KindMethod, "//")
			res.Symbols = append(res.Symbols, sym)
			collectCalls(n, src, sym.Local, res, goCallee)

		case "type_declaration":
			for _, spec := range n.ChildrenOf("type_spec") {
				name := spec.Child("type_identifier").Content(src)
				if name == "" {
					continue
				}
				kind := KindClass
				if iface := spec.Child("interface_type"); iface != nil {
					kind = KindInterface
					for _, emb := range embeddedTypeNames(iface, src) {
						res.Inherits = append(res.Inherits, Inherit{
							ChildLocal: name, ParentName: emb, Interface: true,
						})
					}
				} else if st := spec.Child("struct_type"); st != nil {
					for _, emb := range goEmbeddedFields(st, src) {
						res.Inherits = append(res.Inherits, Inherit{
							ChildLocal: name, ParentName: emb,
						})
					}
				}
				res.Symbols = append(res.Symbols, makeSymbol(n, src, name, name, kind, "//"))
			}
		}
	}
	return res
}

func goImports(n *Node, src []byte) []Import {
	var out []Import
	n.Walk(func(c *Node) bool {
		if c.Type == "import_spec" {
			target := strings.Trim(c.Child("interpreted_string_literal").Content(src), `"`)
			if target == "" {
				return true
			}
			out = append(out, Import{
				Target:    target,
				Text:      c.Content(src),
				StartLine: c.startLine(),
				EndLine:   c.endLine(),
			})
		}
		return true
	})
	return out
}

func goReceiverType(n *Node, src []byte) string {
	// First parameter_list is the receiver.
	recv := n.Child("parameter_list")
	if recv == nil {
		return ""
	}
	name := ""
	recv.Walk(func(c *Node) bool {
		if c.Type == "type_identifier" {
			name = c.Content(src)
			return false
		}
		return true
	})
	return name
}

func embeddedTypeNames(iface *Node, src []byte) []string {
	var out []string
	for _, c := range iface.Children {
		if c.Type == "type_identifier" {
			out = append(out, c.Content(src))
		}
		// interface_type in newer grammars nests embedded names under
		// type_elem / interface_body.
		if c.Type == "interface_body" || c.Type == "type_elem" {
			out = append(out, embeddedTypeNames(c, src)...)
		}
	}
	return out
}

func goEmbeddedFields(st *Node, src []byte) []string {
	var out []string
	st.Walk(func(c *Node) bool {
		if c.Type != "field_declaration" {
			return true
		}
		// Embedded fields have a type but no field_identifier.
		if c.Child("field_identifier") != nil {
			return false
		}
		if ti := c.Child("type_identifier"); ti != nil {
			out = append(out, ti.Content(src))
		}
		return false
	})
	return out
}

func goCallee(fn *Node, src []byte) string {
	switch fn.Type {
	case "identifier":
		return fn.Content(src)
	case "selector_expression":
		return fn.Child("field_identifier").Content(src)
	}
	return ""
}

// --- Python ---

func extractPython(tree *Tree) *Result {
	res := &Result{}
	src := tree.Source
	res.ModuleDoc = pyDocstring(tree.Root, src)

	var visit func(n *Node, class string)
	visit = func(n *Node, class string) {
		for _, c := range n.Children {
			node := c
			if node.Type == "decorated_definition" {
				if def := node.Child("function_definition"); def != nil {
					node = def
				} else if def := node.Child("class_definition"); def != nil {
					node = def
				}
			}

			switch node.Type {
			case "import_statement", "import_from_statement":
				res.Imports = append(res.Imports, Import{
					Target:    pyImportTarget(node, src),
					Text:      node.Content(src),
					StartLine: node.startLine(),
					EndLine:   node.endLine(),
				})

			case "function_definition":
				name := node.Child("identifier").Content(src)
				if name == "" {
					continue
				}
				kind := KindFunction
				local := name
				if class != "" {
					kind = KindMethod
					local = class + "." + name
				}
				sym := makeSymbol(node, src, name, local, kind, "#")
				if body := node.Child("block"); body != nil {
					sym.Docstring = pyDocstring(body, src)
				}
				res.Symbols = append(res.Symbols, sym)
				collectCalls(node, src, sym.Local, res, pyCallee)

			case "class_definition":
				name := node.Child("identifier").Content(src)
				if name == "" {
					continue
				}
				sym := makeSymbol(node, src, name, name, KindClass, "#")
				if body := node.Child("block"); body != nil {
					sym.Docstring = pyDocstring(body, src)
				}
				res.Symbols = append(res.Symbols, sym)
				if args := node.Child("argument_list"); args != nil {
					for _, p := range pyParentNames(args, src) {
						res.Inherits = append(res.Inherits, Inherit{ChildLocal: name, ParentName: p})
					}
				}
				if body := node.Child("block"); body != nil {
					visit(body, name)
				}
			}
		}
	}
	visit(tree.Root, "")
	return res
}

func pyImportTarget(n *Node, src []byte) string {
	if dn := n.Child("dotted_name"); dn != nil {
		return dn.Content(src)
	}
	target := ""
	n.Walk(func(c *Node) bool {
		if target == "" && (c.Type == "dotted_name" || c.Type == "identifier") {
			target = c.Content(src)
			return false
		}
		return true
	})
	return target
}

// pyDocstring returns the leading string literal of a module or block.
func pyDocstring(n *Node, src []byte) string {
	for _, c := range n.Children {
		switch c.Type {
		case "comment":
			continue
		case "expression_statement":
			if s := c.Child("string"); s != nil {
				return strings.Trim(s.Content(src), "\"' \n")
			}
			return ""
		default:
			return ""
		}
	}
	return ""
}

func pyParentNames(args *Node, src []byte) []string {
	var out []string
	for _, c := range args.Children {
		switch c.Type {
		case "identifier":
			out = append(out, c.Content(src))
		case "attribute":
			if id := lastChildOfType(c, "identifier"); id != nil {
				out = append(out, id.Content(src))
			}
		}
	}
	return out
}

func pyCallee(fn *Node, src []byte) string {
	switch fn.Type {
	case "identifier":
		return fn.Content(src)
	case "attribute":
		if id := lastChildOfType(fn, "identifier"); id != nil {
			return id.Content(src)
		}
	}
	return ""
}

// --- JavaScript / TypeScript ---

func extractJS(tree *Tree) *Result {
	res := &Result{}
	src := tree.Source

	var handleClassBody func(body *Node, class string)
	handleClassBody = func(body *Node, class string) {
		for _, m := range body.ChildrenOf("method_definition") {
			name := m.Child("property_identifier").Content(src)
			if name == "" {
				continue
			}
			sym := makeSymbol(m, src, name, class+"."+name, KindMethod, "//")
			res.Symbols = append(res.Symbols, sym)
			collectCalls(m, src, sym.Local, res, jsCallee)
		}
	}

	var visit func(n *Node)
	visit = func(n *Node) {
		for _, c := range n.Children {
			node := c
			// export statements wrap the declaration.
			if node.Type == "export_statement" {
				if inner := firstDeclChild(node); inner != nil {
					node = inner
				}
			}

			switch node.Type {
			case "import_statement":
				target := ""
				if s := node.Child("string"); s != nil {
					target = strings.Trim(s.Content(src), "\"'`")
				}
				res.Imports = append(res.Imports, Import{
					Target:    target,
					Text:      node.Content(src),
					StartLine: node.startLine(),
					EndLine:   node.endLine(),
				})

			case "function_declaration", "generator_function_declaration":
				name := node.Child("identifier").Content(src)
				if name == "" {
					continue
				}
				sym := makeSymbol(node, src, name, name, KindFunction, "//")
				res.Symbols = append(res.Symbols, sym)
				collectCalls(node, src, sym.Local, res, jsCallee)

			case "lexical_declaration", "variable_declaration":
				for _, d := range node.ChildrenOf("variable_declarator") {
					if d.Child("arrow_function") == nil && d.Child("function_expression") == nil {
						continue
					}
					name := d.Child("identifier").Content(src)
					if name == "" {
						continue
					}
					sym := makeSymbol(node, src, name, name, KindFunction, "//")
					res.Symbols = append(res.Symbols, sym)
					collectCalls(d, src, sym.Local, res, jsCallee)
				}

			case "class_declaration":
				name := firstOfTypes(node, src, "type_identifier", "identifier")
				if name == "" {
					continue
				}
				res.Symbols = append(res.Symbols, makeSymbol(node, src, name, name, KindClass, "//"))
				if heritage := node.Child("class_heritage"); heritage != nil {
					res.Inherits = append(res.Inherits, jsHeritage(heritage, src, name)...)
				}
				if body := node.Child("class_body"); body != nil {
					handleClassBody(body, name)
				}

			case "interface_declaration":
				name := node.Child("type_identifier").Content(src)
				if name == "" {
					continue
				}
				res.Symbols = append(res.Symbols, makeSymbol(node, src, name, name, KindInterface, "//"))
				if ext := node.Child("extends_type_clause"); ext != nil {
					for _, ti := range ext.ChildrenOf("type_identifier") {
						res.Inherits = append(res.Inherits, Inherit{
							ChildLocal: name, ParentName: ti.Content(src), Interface: true,
						})
					}
				}
			}
		}
	}
	visit(tree.Root)
	return res
}

func firstDeclChild(export *Node) *Node {
	for _, c := range export.Children {
		switch c.Type {
		case "function_declaration", "generator_function_declaration",
			"class_declaration", "interface_declaration",
			"lexical_declaration", "variable_declaration":
			return c
		}
	}
	return nil
}

func jsHeritage(heritage *Node, src []byte, class string) []Inherit {
	var out []Inherit
	heritage.Walk(func(c *Node) bool {
		switch c.Type {
		case "extends_clause":
			for _, id := range c.Children {
				if id.Type == "identifier" || id.Type == "type_identifier" {
					out = append(out, Inherit{ChildLocal: class, ParentName: id.Content(src)})
				}
			}
			return false
		case "implements_clause":
			for _, id := range c.Children {
				if id.Type == "type_identifier" || id.Type == "identifier" {
					out = append(out, Inherit{ChildLocal: class, ParentName: id.Content(src), Interface: true})
				}
			}
			return false
		case "identifier":
			// Plain JS: class_heritage is "extends" + expression.
			out = append(out, Inherit{ChildLocal: class, ParentName: c.Content(src)})
			return false
		}
		return true
	})
	return out
}

func jsCallee(fn *Node, src []byte) string {
	switch fn.Type {
	case "identifier":
		return fn.Content(src)
	case "member_expression":
		return fn.Child("property_identifier").Content(src)
	}
	return ""
}

// --- shared helpers ---

// makeSymbol builds a Symbol from a definition node, pulling the
// signature from the first source line and the doc comment from the
// preceding comment block.
func makeSymbol(n *Node, src []byte, name, local string, kind Kind, commentPrefix string) Symbol {
	body := n.Content(src)
	sig := body
	if idx := strings.IndexByte(sig, '\n'); idx >= 0 {
		sig = sig[:idx]
	}
	sig = strings.TrimRight(strings.TrimSpace(sig), "{:")
	sig = strings.TrimSpace(sig)

	return Symbol{
		Name:      name,
		Local:     local,
		Kind:      kind,
		StartLine: n.startLine(),
		EndLine:   n.endLine(),
		Signature: sig,
		Docstring: docCommentBefore(src, n.StartByte, commentPrefix),
		Body:      body,
	}
}

// docCommentBefore collects the contiguous comment block immediately
// above the byte offset.
func docCommentBefore(src []byte, startByte uint32, prefix string) string {
	lineStart := int(startByte)
	for lineStart > 0 && src[lineStart-1] != '\n' {
		lineStart--
	}
	if lineStart <= 1 {
		return ""
	}

	var lines []string
	pos := lineStart - 1 // points at the newline before the definition
	for pos > 0 {
		prevEnd := pos
		pos--
		for pos > 0 && src[pos] != '\n' {
			pos--
		}
		prevStart := pos
		if pos > 0 {
			prevStart++
		}
		line := strings.TrimSpace(string(src[prevStart:prevEnd]))
		if strings.HasPrefix(line, prefix) {
			lines = append([]string{strings.TrimSpace(strings.TrimPrefix(line, prefix))}, lines...)
			continue
		}
		break
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}

// collectCalls walks a definition body and records call sites attributed
// to callerLocal. calleeOf extracts the simple callee name from the call
// node's function child.
func collectCalls(n *Node, src []byte, callerLocal string, res *Result, calleeOf func(*Node, []byte) string) {
	n.Walk(func(c *Node) bool {
		if c.Type != "call_expression" && c.Type != "call" {
			return true
		}
		if len(c.Children) == 0 {
			return true
		}
		callee := calleeOf(c.Children[0], src)
		if callee == "" {
			return true
		}
		res.Calls = append(res.Calls, Call{
			CallerLocal: callerLocal,
			CalleeName:  callee,
			StartLine:   c.startLine(),
			EndLine:     c.endLine(),
		})
		return true
	})
}

func lastChildOfType(n *Node, nodeType string) *Node {
	var last *Node
	for _, c := range n.Children {
		if c.Type == nodeType {
			last = c
		}
	}
	return last
}

func firstOfTypes(n *Node, src []byte, types ...string) string {
	for _, t := range types {
		if c := n.Child(t); c != nil {
			return c.Content(src)
		}
	}
	return ""
}
