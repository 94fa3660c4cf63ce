package buzzword

// DefaultWords is the built-in vocabulary for AI model launch events.
var DefaultWords = []string{
	// Launch keynote staples
	"excited",
	"frontier",
	"smartest",
	"agent",
	"accurate",
	"faster",
	"reliable",
	"most advanced",
	"agi",
	"benchmark",

	// Technical terms
	"transformer",
	"neural network",
	"deep learning",
	"machine learning",
	"artificial intelligence",
	"parameters",
	"tokens",
	"inference",
	"training",
	"fine-tuning",
	"rlhf",
	"reinforcement learning",
	"few-shot",
	"zero-shot",
	"prompt engineering",
	"hallucination",
	"latency",
	"throughput",
	"multimodal",
	"reasoning",
	"emergent",
	"scaling",
	"alignment",

	// Marketing and performance
	"revolutionary",
	"breakthrough",
	"game-changing",
	"unprecedented",
	"next-generation",
	"cutting-edge",
	"state-of-the-art",
	"industry-leading",
	"world-class",
	"superior",
	"advanced",
	"innovative",
	"groundbreaking",
	"disruptive",
	"transformative",
	"powerful",
	"robust",
	"scalable",
	"efficient",
	"optimized",

	// Capabilities
	"understand",
	"generate",
	"create",
	"analyze",
	"process",
	"interpret",
	"learn",
	"adapt",
	"improve",
	"enhance",
	"optimize",
	"automate",
	"intelligent",
	"smart",
	"autonomous",
	"cognitive",
	"contextual",
	"personalized",
	"customized",
	"seamless",
	"intuitive",

	// Comparisons and superlatives
	"better",
	"best",
	"outperform",
	"exceed",
	"surpass",
	"leading",
	"top",
	"first",
	"only",
	"unique",
	"exclusive",
	"proprietary",
	"novel",
	"new",
	"latest",
	"modern",
	"future",
	"next-level",
}
