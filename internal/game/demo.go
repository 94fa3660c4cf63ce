package game

// DemoText is replayed by the simulated source when no live recognizer is
// available.
const DemoText = `We're excited to announce our revolutionary new AI model that represents a breakthrough in artificial intelligence.
This cutting-edge transformer architecture with billions of parameters delivers unprecedented performance on benchmarks.
Our smartest agent yet demonstrates emergent reasoning capabilities and multimodal understanding.
The model is faster, more accurate, and more reliable than previous versions.
We've achieved state-of-the-art results through advanced fine-tuning and RLHF techniques.
This represents the most advanced AI system we've ever built, bringing us closer to AGI.
The frontier model showcases superior few-shot and zero-shot learning capabilities.
Our innovative approach to prompt engineering and alignment ensures robust and safe AI.`
