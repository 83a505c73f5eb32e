package domain

type Language string

const (
	LangCpp        Language = "c++17"
	LangJava       Language = "java"
	LangPython     Language = "python3"
	LangJavaScript Language = "javascript"
	LangGo         Language = "go"
)

// Languages lists the selectable languages in a stable order; the random
// starting language is drawn from this slice.
var Languages = []Language{LangCpp, LangJava, LangPython, LangJavaScript, LangGo}

var templates = map[Language]string{
	LangCpp:        "#include <bits/stdc++.h>\nusing namespace std;\n\nint main() {\n    \n    return 0;\n}\n",
	LangJava:       "public class Main {\n    public static void main(String[] args) {\n        \n    }\n}\n",
	LangPython:     "def main():\n    pass\n\n\nif __name__ == \"__main__\":\n    main()\n",
	LangJavaScript: "function main() {\n    \n}\n\nmain();\n",
	LangGo:         "package main\n\nfunc main() {\n\t\n}\n",
}

// Template returns the starter buffer for a language. Unknown languages get
// an empty template rather than an error so a newer peer's selection still
// round-trips.
func Template(l Language) string {
	return templates[l]
}

// KnownLanguage reports whether l is one of the built-in languages.
func KnownLanguage(l Language) bool {
	_, ok := templates[l]
	return ok
}
