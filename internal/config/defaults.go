package config

import "lumichat/internal/locale"

const defaultSystemInstruction = "Anda adalah asisten AI mandiri yang cerdas. Anda memiliki akses ke Google Search untuk mencari informasi real-time.\n\nATURAN FORMAT:\n1. Jika memberikan data terstruktur, perbandingan, spesifikasi, atau daftar harga, WAJIB gunakan Tabel Markdown.\n2. Pastikan header tabel singkat dan jelas.\n3. Jika pengguna bertanya tentang kejadian terkini, fakta, atau berita, gunakan alat pencarian Anda secara otomatis.\n4. Jawablah dengan sopan, akurat, dan ringkas dalam Bahasa Indonesia."

func Defaults() *Config {
	return &Config{
		General: GeneralConfig{
			LogLevel:          "info",
			Locale:            string(locale.Default),
			DefaultModel:      "gemini-2.5-flash",
			SystemInstruction: defaultSystemInstruction,
		},
		Providers: ProvidersConfig{
			// Pollinations needs no key, so it is the out-of-the-box
			// provider; Gemini turns on once a key is configured.
			Gemini: GeminiConfig{
				Enabled: false,
				Model:   "gemini-2.5-flash",
			},
			Pollinations: PollinationsConfig{
				Enabled: true,
			},
			Speech: SpeechConfig{
				Enabled: false,
				Voice:   "Kore",
			},
		},
		Persistence: PersistenceConfig{
			DBPath: "~/.lumichat/chats.db",
			Remote: RemoteConfig{
				Enabled: false,
			},
		},
		Auth: AuthConfig{
			Enabled: false,
		},
		Web: WebConfig{
			Enabled: true,
			Host:    "127.0.0.1",
			Port:    8080,
		},
		Metrics: MetricsConfig{
			Enabled:  false,
			Endpoint: "/metrics",
		},
	}
}
