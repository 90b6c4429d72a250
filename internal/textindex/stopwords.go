package textindex

var portugueseStopwords = []string{
	"a", "à", "ao", "aos", "aquela", "aquelas", "aquele", "aqueles", "aquilo", "as", "às", "até",
	"com", "como", "da", "das", "de", "dela", "delas", "dele", "deles", "depois", "do", "dos",
	"e", "é", "ela", "elas", "ele", "eles", "em", "entre", "era", "essa", "essas", "esse", "esses",
	"esta", "está", "estas", "este", "estes", "eu", "foi", "for", "foram", "há", "isso", "isto",
	"já", "lhe", "lhes", "mais", "mas", "me", "mesmo", "meu", "na", "nas", "nem", "no", "nos",
	"nós", "num", "numa", "o", "os", "ou", "para", "pela", "pelas", "pelo", "pelos", "por",
	"qual", "quando", "que", "quem", "se", "seja", "sem", "ser", "seu", "seus", "só", "sua",
	"suas", "também", "te", "tem", "têm", "um", "uma", "umas", "uns", "você", "vos",
}

// High-frequency connectives in judgments that carry no retrieval signal.
var legalStopwords = []string{
	"portanto", "outrossim", "conforme", "destarte", "assim", "ademais", "todavia",
	"contudo", "entretanto", "nesse", "nessa", "neste", "nesta", "sentido", "ainda",
	"razão", "pois", "logo", "cumpre", "ressaltar", "salientar", "inclusive", "referido",
	"referida", "aludido", "aludida", "supracitado", "supracitada", "mencionado",
	"mencionada", "acerca", "quanto", "bem", "sobre", "vez", "tal", "tais",
}
