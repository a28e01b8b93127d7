package extract

import "regexp"

// Rule is one named keyword pattern. A rule belongs to a category and a
// family within it; the canonical name of a hit is the first capture
// group when present, otherwise the whole match.
type Rule struct {
	Category string
	Family   string
	re       *regexp.Regexp
}

// Hit is a single folded match. Extraction folds hits into the nested
// KeywordHits mapping; nothing in the inner loop depends on that shape.
type Hit struct {
	Category string
	Family   string
	Name     string
	Count    int
}

func rule(category, family, pattern string) Rule {
	return Rule{
		Category: category,
		Family:   family,
		re:       regexp.MustCompile(pattern),
	}
}

// Keyword categories. rules_cert_id is handled separately per scheme, see
// certIDRules.
const (
	CatSymmetricCrypto   = "symmetric_crypto"
	CatAsymmetricCrypto  = "asymmetric_crypto"
	CatPQCrypto          = "pq_crypto"
	CatHashFunction      = "hash_function"
	CatCryptoScheme      = "crypto_scheme"
	CatCryptoLibrary     = "crypto_library"
	CatBlockCipherMode   = "block_cipher_mode"
	CatEllipticCurve     = "elliptic_curve"
	CatProtocol          = "protocol"
	CatRandomness        = "randomness"
	CatTEEName           = "tee_name"
	CatOSName            = "os_name"
	CatVendor            = "vendor"
	CatSideChannel       = "side_channel_analysis"
	CatStandard          = "standard_id"
	CatJavaCard          = "javacard"
	CatCCSecurityLevel   = "cc_security_level"
	CatCCSAR             = "cc_sar"
	CatCCClaims          = "cc_claims"
	CatCCProtectionID    = "cc_protection_profile_id"
	CatFIPSSecurityLevel = "fips_security_level"
	CatFIPSCertLike      = "fips_cert_id"
	CatCertID            = "rules_cert_id"
)

// keywordRules is the catalog applied to every converted artifact text.
var keywordRules = []Rule{
	// symmetric primitives
	rule(CatSymmetricCrypto, "AES_competition", `\b(AES)[-\s]?(?:128|192|256)?\b`),
	rule(CatSymmetricCrypto, "AES_competition", `\b(Rijndael)\b`),
	rule(CatSymmetricCrypto, "AES_competition", `\b(Serpent)\b`),
	rule(CatSymmetricCrypto, "AES_competition", `\b(Twofish)\b`),
	rule(CatSymmetricCrypto, "DES", `\b(3DES|TDES|Triple[-\s]?DES|TDEA)\b`),
	rule(CatSymmetricCrypto, "DES", `\b(DES)\b`),
	rule(CatSymmetricCrypto, "stream_cipher", `\b(RC4|ChaCha20|Salsa20|SNOW\s?3G|ZUC)\b`),
	rule(CatSymmetricCrypto, "miscellaneous", `\b(Blowfish|Camellia|CAST5|IDEA|SEED|ARIA|GOST\s?28147)\b`),
	rule(CatSymmetricCrypto, "MAC", `\b(HMAC(?:-SHA(?:-)?(?:1|224|256|384|512))?)\b`),
	rule(CatSymmetricCrypto, "MAC", `\b(CMAC|CBC-MAC|GMAC|Poly1305)\b`),

	// asymmetric primitives
	rule(CatAsymmetricCrypto, "RSA", `\b(RSA)[-\s]?(?:512|768|1024|2048|3072|4096)?\b`),
	rule(CatAsymmetricCrypto, "ECC", `\b(ECDSA|ECDH|ECDHE|ECIES|EdDSA|Ed25519|Ed448|X25519|X448)\b`),
	rule(CatAsymmetricCrypto, "ECC", `\b(ECC)\b`),
	rule(CatAsymmetricCrypto, "FF", `\b(DSA|Diffie[-\s]?Hellman|DH|DHE)\b`),

	// post-quantum
	rule(CatPQCrypto, "KEM", `\b(Kyber|CRYSTALS-Kyber|ML-KEM|FrodoKEM|NTRU|Classic McEliece|BIKE|HQC|SABER)\b`),
	rule(CatPQCrypto, "signature", `\b(Dilithium|CRYSTALS-Dilithium|ML-DSA|Falcon|SPHINCS\+?|XMSS|LMS|Rainbow)\b`),

	// hashes
	rule(CatHashFunction, "SHA1", `\b(SHA[-\s]?1)\b`),
	rule(CatHashFunction, "SHA2", `\b(SHA[-\s]?(?:224|256|384|512)(?:/(?:224|256))?)\b`),
	rule(CatHashFunction, "SHA3", `\b(SHA[-\s]?3(?:-(?:224|256|384|512))?|Keccak|SHAKE(?:128|256)?)\b`),
	rule(CatHashFunction, "miscellaneous", `\b(MD5|MD4|RIPEMD(?:-160)?|Whirlpool|BLAKE2[bs]?|GOST\s?R?\s?34\.11)\b`),
	rule(CatHashFunction, "PBKDF", `\b(PBKDF2|bcrypt|scrypt|Argon2(?:id|i|d)?)\b`),

	// schemes
	rule(CatCryptoScheme, "KA", `\b(key agreement|key exchange|KEX|KAS)\b`),
	rule(CatCryptoScheme, "KEM", `\b(KEM|key encapsulation)\b`),
	rule(CatCryptoScheme, "signature", `\b(RSASSA-PSS|RSA-PSS|PKCS\s?#?1\s?v1\.5)\b`),
	rule(CatCryptoScheme, "KDF", `\b(KDF|HKDF|KBKDF|X9\.63)\b`),

	// libraries
	rule(CatCryptoLibrary, "OpenSSL", `\b(OpenSSL)\b`),
	rule(CatCryptoLibrary, "BoringSSL", `\b(BoringSSL)\b`),
	rule(CatCryptoLibrary, "LibreSSL", `\b(LibreSSL)\b`),
	rule(CatCryptoLibrary, "GnuTLS", `\b(GnuTLS)\b`),
	rule(CatCryptoLibrary, "NSS", `\b(NSS)\b`),
	rule(CatCryptoLibrary, "BouncyCastle", `\b(Bouncy\s?Castle)\b`),
	rule(CatCryptoLibrary, "Crypto++", `\b(Crypto\+\+)\b`),
	rule(CatCryptoLibrary, "wolfSSL", `\b(wolfSSL|wolfCrypt|CyaSSL)\b`),
	rule(CatCryptoLibrary, "mbedTLS", `\b(mbed\s?TLS|PolarSSL)\b`),
	rule(CatCryptoLibrary, "libgcrypt", `\b(libgcrypt)\b`),
	rule(CatCryptoLibrary, "cryptlib", `\b(cryptlib)\b`),

	// modes
	rule(CatBlockCipherMode, "authenticated", `\b(GCM|CCM|EAX|OCB|SIV)\b`),
	rule(CatBlockCipherMode, "classic", `\b(ECB|CBC|CFB|OFB|CTR|XTS)\b`),

	// curves
	rule(CatEllipticCurve, "NIST", `\b(P-(?:192|224|256|384|521)|secp(?:192|224|256|384|521)r1)\b`),
	rule(CatEllipticCurve, "Brainpool", `\b(brainpoolP(?:160|192|224|256|320|384|512)[rt]1)\b`),
	rule(CatEllipticCurve, "Curve25519", `\b(Curve25519|Curve448)\b`),

	// protocols
	rule(CatProtocol, "TLS", `\b(TLS(?:\s?v?1\.[0-3])?|SSL(?:\s?v?[23](?:\.0)?)?|DTLS)\b`),
	rule(CatProtocol, "IKE", `\b(IKE(?:v[12])?|IPsec|ISAKMP)\b`),
	rule(CatProtocol, "SSH", `\b(SSH(?:v?2)?)\b`),
	rule(CatProtocol, "VPN", `\b(VPN)\b`),
	rule(CatProtocol, "PACE", `\b(PACE|BAC|EAC(?:v?[12])?|SAC)\b`),
	rule(CatProtocol, "SNMP", `\b(SNMP(?:v[123])?)\b`),

	// randomness
	rule(CatRandomness, "TRNG", `\b(TRNG|PTG\.[123]|physical (?:true )?random)\b`),
	rule(CatRandomness, "DRBG", `\b(DRBG|CTR_DRBG|Hash_DRBG|HMAC_DRBG|DRG\.[1-4])\b`),
	rule(CatRandomness, "RNG", `\b(RNG|RBG)\b`),

	// execution environments
	rule(CatTEEName, "ARM", `\b(TrustZone)\b`),
	rule(CatTEEName, "GlobalPlatform", `\b(GlobalPlatform\s?TEE|TEE)\b`),
	rule(CatTEEName, "Intel", `\b(SGX)\b`),
	rule(CatTEEName, "AMD", `\b(AMD\s?(?:SEV|PSP))\b`),

	// operating systems
	rule(CatOSName, "JavaCardOS", `\b(JCOP|GXP\d?)\b`),
	rule(CatOSName, "unix", `\b(Linux|FreeBSD|Solaris|AIX)\b`),
	rule(CatOSName, "windows", `\b(Windows(?:\s?(?:Server|CE|10|11|2019|2022))?)\b`),

	// vendors that recur across both corpora
	rule(CatVendor, "Infineon", `\b(Infineon)\b`),
	rule(CatVendor, "NXP", `\b(NXP)\b`),
	rule(CatVendor, "Thales", `\b(Thales|Gemalto)\b`),
	rule(CatVendor, "STMicroelectronics", `\b(STMicroelectronics|ST Microelectronics)\b`),
	rule(CatVendor, "Samsung", `\b(Samsung)\b`),
	rule(CatVendor, "IBM", `\b(IBM)\b`),
	rule(CatVendor, "Cisco", `\b(Cisco)\b`),
	rule(CatVendor, "RedHat", `\b(Red\s?Hat)\b`),
	rule(CatVendor, "Idemia", `\b(IDEMIA|Oberthur|Morpho)\b`),
	rule(CatVendor, "G&D", `\b(Giesecke\s?[+&]?\s?Devrient|G&D|G\+D)\b`),

	// side channels and fault attacks
	rule(CatSideChannel, "SCA", `\b(side[-\s]channel(?:s)?|SPA|DPA|CPA|template attack(?:s)?|timing attack(?:s)?)\b`),
	rule(CatSideChannel, "FI", `\b(fault injection|fault attack(?:s)?|DFA|laser attack(?:s)?|glitch(?:ing)?)\b`),
	rule(CatSideChannel, "other", `\b(JIL|AVA_VAN\.[1-5])\b`),

	// standards
	rule(CatStandard, "FIPS", `\b(FIPS\s?(?:PUB\s?)?(?:140-[123]|46-3|81|113|180-[1-4]|186-[1-5]|197|198-?1?|202))\b`),
	rule(CatStandard, "NIST", `\b(SP\s?800-\d{1,3}[A-Cr]*(?:\s?Rev\.?\s?\d)?)\b`),
	rule(CatStandard, "PKCS", `\b(PKCS\s?#?\d{1,2})\b`),
	rule(CatStandard, "RFC", `\b(RFC\s?\d{3,5})\b`),
	rule(CatStandard, "ISO", `\b(ISO/IEC\s?\d{4,5}(?:-\d{1,2})?)\b`),
	rule(CatStandard, "X509", `\b(X\.509)\b`),
	rule(CatStandard, "ICAO", `\b(ICAO(?:\s?Doc\s?9303)?)\b`),

	// javacard platform
	rule(CatJavaCard, "JavaCard", `\b(Java\s?Card\s?(?:[23]\.\d(?:\.\d)?)?)\b`),
	rule(CatJavaCard, "GlobalPlatform", `\b(GlobalPlatform\s?(?:[12]\.\d(?:\.\d)?)?)\b`),

	// CC security levels and assurance components
	rule(CatCCSecurityLevel, "EAL", `\b(EAL\s?[1-7]\+?)\b`),
	rule(CatCCSAR, "ADV", `\b(ADV_[A-Z]{3}\.[1-6])\b`),
	rule(CatCCSAR, "AGD", `\b(AGD_[A-Z]{3}\.[1-6])\b`),
	rule(CatCCSAR, "ALC", `\b(ALC_[A-Z]{3}\.[1-6])\b`),
	rule(CatCCSAR, "ATE", `\b(ATE_[A-Z]{3}\.[1-6])\b`),
	rule(CatCCSAR, "AVA", `\b(AVA_[A-Z]{3}\.[1-6])\b`),
	rule(CatCCSAR, "ASE", `\b(ASE_[A-Z]{3}\.[1-6])\b`),
	rule(CatCCClaims, "OT", `\b(O\.[A-Z][A-Z_-]{2,})\b`),
	rule(CatCCClaims, "T", `\b(T\.[A-Z][A-Z_-]{2,})\b`),
	rule(CatCCClaims, "A", `\b(A\.[A-Z][A-Z_-]{2,})\b`),

	// protection profile ids
	rule(CatCCProtectionID, "BSI", `\b(BSI-(?:CC-)?PP-?\d{4}(?:-V?\d+)?(?:-\d{4})?)\b`),
	rule(CatCCProtectionID, "ANSSI", `\b(ANSSI-CC-PP-\d{4}/\d{2})\b`),
	rule(CatCCProtectionID, "generic", `\b(PP_[A-Z_]+_V\d+\.\d+)\b`),

	// FIPS levels and algorithm certificates
	rule(CatFIPSSecurityLevel, "level", `\b[Ll]evel\s+([1-4])\b`),
	rule(CatFIPSCertLike, "algorithm", `\b(?:AES|SHS|SHA|RSA|HMAC|DSA|ECDSA|DRBG|Triple-DES|TDES|KAS|CVL|KBKDF|PBKDF)\s?[Cc]erts?\.?\s?#\s?(\d{1,5})\b`),
}

// certIDRules find references to other certificates in artifact text,
// one family per scheme id shape. They feed reference resolution and are
// excluded from the generic keyword pass.
var certIDRules = []Rule{
	rule(CatCertID, "FR", `\b(ANSSI-CC-\d{4}[/_-]\d{2,4}(?:v\d)?)\b`),
	rule(CatCertID, "DE", `\b(BSI-DSZ-CC-\d{3,5}(?:-[vV]?\d+)?(?:-\d{4})?)\b`),
	rule(CatCertID, "NL", `\b(NSCIB-CC-\d{2,7}(?:-CR\d?|-MA\d?)?)\b`),
	rule(CatCertID, "US", `\b(CCEVS-VR-(?:VID)?-?\d{2,5}(?:-\d{4})?)\b`),
	rule(CatCertID, "ES", `\b(\d{4}-\d{1,2}-INF-\d{3,5}(?:-v\d)?)\b`),
	rule(CatCertID, "SE", `\b(CSEC\s?\d{4,6})\b`),
	rule(CatCertID, "JP", `\b(JISEC-CC-[A-Z]{4}-\d{4}(?:-\d{2})?|C\d{3,5})\b`),
	rule(CatCertID, "AU", `\b(Certification Report \d{4}/\d{2,3})\b`),
	rule(CatCertID, "KR", `\b(KECS-[A-Z]{3,5}-\d{4}(?:-\d{4})?)\b`),
	rule(CatCertID, "FIPS", `(?:Cert\.?\s?|Certificate\s?)?#\s?(\d{2,5})\b`),
}
