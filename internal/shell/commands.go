package shell

import (
	"context"
	"fmt"

	"github.com/andrei-cloud/go_optiga/internal/examples"
)

// Prefix every command line starts with.
const Prefix = "optiga --"

// Command is one row of the command table.
type Command struct {
	Name        string
	Description string
	Handler     func(ctx context.Context) error
}

// row formats a usage description; help has none.
func row(desc string) string {
	if desc == "" {
		return ""
	}

	return fmt.Sprintf("    %-41s: %s", desc, Prefix)
}

// newTable builds the command table bound to s.
func newTable(s *Shell) []Command {
	r := s.runner
	cmds := []struct {
		desc    string
		name    string
		handler func(ctx context.Context) error
	}{
		{"", "help", s.help},
		{"initialize optiga", "init", r.Init},
		{"de-initialize optiga", "deinit", r.Deinit},
		{"run all tests at once", "selftest", s.SelfTest},
		{"read data", "readdata", s.readData},
		{"write data", "writedata", s.banner(r.WriteData,
			"Starting Write Data/Metadata Example",
			"1 Step: Write Sample Certificate in Trust Anchor Data Object (640 bytes)",
			"2 Step: Write new Metadata")},
		{"read coprocessor id", "coprocid", s.banner(r.CoprocessorID,
			"Starting reading of Coprocessor ID and displaying it's individual components Example",
			"1 Step: Read Coprocessor UID from OID(0xE0C2) ")},

		{"binding host with optiga", "bind", s.banner(r.PairHost,
			"Starting Pairing of Host and Trust M Example",
			"1 Step: Read and Check existing Metadata for the Binding Secret",
			"2 Step: Generate Random for the new Binding Secret",
			"3 Step: Write new Binding Secret",
			"4 Step: Store new Binding Secret on the Host")},
		{"hibernate and restore", "hibernate", s.hibernate},
		{"update counter", "counter", s.banner(r.UpdateCounter,
			"Starting Update Counter Example",
			"1 Step: Write Initial Counter Value",
			"2 Step: Increase Counter Object")},
		{"protected update", "protected", s.banner(r.ProtectedUpdate,
			"Starting Protected Update Example",
			"1 Step: Update Metadata for the Object to be updated and the Trust Anchor used to verify the update",
			"2 Step: Write Trust Anchor used by the Trust M to verify the update",
			"3 Step: Start Protected update with prepared manifest and fragments")},

		{"hashing of data", "hash", s.banner(r.Hash,
			"Starting Hash Example",
			"1 Step: Hash given data with Start, Update and Finalize calls")},
		{"hash single function", "hashsha256", s.banner(r.HashData,
			"Starting generation of digest Example",
			"1 Step: Generate hash of given user data ")},
		{"tls pfr sha256", "prf", s.banner(r.TLSPRFSHA256,
			"Starting TLS PRF SHA256 (Key Deriviation) Example",
			"1 Step: Write prepared Shared Secret into an Arbitrary Data Object",
			"2 Step: Update Metadata of the Object to use the Arbitrary Data Object only via Shielded I2C Connection",
			"3 Step: Generate Shared Secret using the Shared Secret from the Arbitrary Data Object",
			"4 Step: Restore Metadata of the Arbitrary Data Object")},
		{"random number generation", "random", s.banner(r.Random,
			"Starting Generate Random Example",
			"1 Step: Generate 32 bytes random")},

		{"ecc key pair generation", "ecckeygen", s.banner(r.ECCGenerateKeypair,
			"Starting generate ECC Key Example",
			"1 Step: Generate ECC NIST P-256 Key Pair and export the public key")},
		{"ecdsa sign", "ecdsasign", s.banner(r.ECDSASign,
			"Starting signing example for Elliptic-curve Digital Signature Algorithm (ECDSA)",
			"1 Step: Sign prepared Data and export the signature")},
		{"ecdsa verify sign", "ecdsaverify", s.banner(r.ECDSAVerify,
			"Starting verification example for Elliptic-curve Digital Signature Algorithm (ECDSA)",
			"1 Step: Verify prepared signature, with prepared public key and digest")},
		{"ecc diffie hellman", "ecdh", s.banner(r.ECDH,
			"Starting Elliptic-curve Diffie–Hellman (ECDH) Key Agreement Protocol Example",
			"1 Step: Select Protected I2C Connection",
			"2 Step: Generate new ECC NIST P-256 Key Pair",
			"3 Step: Select Protected I2C Connection",
			"4 Step: Generate Shared Secret and export it")},

		{"rsa key pair generation", "rsakeygen", s.banner(r.RSAGenerateKeypair,
			"Starting generate RSA Key Example",
			"1 Step: Generate RSA 1024 Key Pair and export the public key")},
		{"rsa sign", "rsasign", s.banner(r.RSASign,
			"Starting signing example for PKCS#1 Ver1.5 SHA256 Signature scheme (RSA)",
			"1 Step: Sign prepared Data and export the signature")},
		{"rsa verify sign", "rsaverify", s.banner(r.RSAVerify,
			"Starting signing example for PKCS#1 Ver1.5 SHA256 Signature scheme (RSA)",
			"1 Step: Verify prepared signature, with prepared public key and digest")},
		{"rsa encrypt message", "rsaencmsg", s.banner(r.RSAEncryptMessage,
			"Starting Encrypt Data with RSA Key Example",
			"1 Step: Encrypt a message with RSAES PKCS#1 Ver1.5 Scheme")},
		{"rsa encrypt session", "rsaencsession", s.banner(r.RSAEncryptSession,
			"Starting Encrypt Data in Session Object on chip with RSA Key Example",
			"1 Step: Encrypt a message with RSAES PKCS#1 Ver1.5 Scheme stored on chip in Session Object")},
		{"rsa decrypt and store", "rsadecstore", s.banner(r.RSADecryptAndStore,
			"Starting Decrypt and Store Data on the chip with RSA Key Example",
			"1 Step: Generate RSA 1024 Key Pair and export the public key",
			"2 Step: Generate 70 bytes RSA Pre master secret which is stored in acquired session OID",
			"3 Step: Select Protected I2C Connection",
			"4 Step: Encrypt Session Data with RSA Public Key",
			"5 Step: Decrypt the message with RSAES PKCS#1 Ver1.5 Scheme and store it on chip")},
		{"rsa decrypt and export", "rsadecexp", s.banner(r.RSADecryptAndExport,
			"Starting Decrypt and Export Data with RSA Key Example",
			"1 Step: Generate RSA 1024 Key Pair and export the public key",
			"2 Step: Encrypt a message with RSAES PKCS#1 Ver1.5 Scheme",
			"3 Step: Select Protected I2C Connection",
			"4 Step: Decrypt the message with RSAES PKCS#1 Ver1.5 Scheme and export it")},

		{"symmetric ecb encrypt and decrypt", "ecbencdec", s.banner(r.SymmetricEncryptDecryptECB,
			"Starting symmetric Encrypt and Decrypt Data for ECB mode Example",
			"1 Step: Generate and store the AES 128 Symmetric key in OPTIGA Key store OID(E200)",
			"2 Step: Encrypt the plain data with ECB mode",
			"3 Step: Decrypt the encrypted data from step 2")},
		{"symmetric cbc encrypt and decrypt", "cbcencdec", s.banner(r.SymmetricEncryptDecryptCBC,
			"Starting symmetric Encrypt and Decrypt Data for CBC mode Example",
			"1 Step: Generate and store the AES 128 Symmetric key in OPTIGA Key store OID(E200)",
			"2 Step: Encrypt the plain data with CBC mode",
			"3 Step: Decrypt the encrypted data from step 2")},
		{"symmetric cbcmac encrypt", "cbcmacenc", s.banner(r.SymmetricEncryptCBCMAC,
			"Starting symmetric Encrypt Data for CBCMAC mode Example",
			"1 Step: Generate and store the AES 128 Symmetric key in OPTIGA Key store OID(E200)",
			"2 Step: Encrypt the plain data with CBCMAC mode")},
		{"hmac-sha256 generation", "hmac", s.banner(r.HMAC,
			"Starting HMAC-SHA256 generation Example",
			"1 Step: Change metadata for OID(0xF1D0) as Execute access condition = Always and Data object type  =  Pre-shared secret",
			"2 Step: Generate HMAC")},
		{"hkdf-sha256 key derivation", "hkdf", s.banner(r.HKDF,
			"Starting HKDF-SHA256 key derivation Example",
			"1 Step: Write the shared secret to the Arbitrary data object F1D0",
			"2 Step: Change metadata of OID(0xF1D0) Data object type  =  Pre-shared secret",
			"3 Step: Derive HKDF")},
		{"generate symmetric aes-128 key", "aeskeygen", s.banner(r.SymmetricGenerateKey,
			"Starting generation of symmetric AES-128 key",
			"1 Step: Generate symmetric AES-128 key and store it in OID(E200)")},
		{"clear auto state", "clrautostate", s.banner(r.ClearAutoState,
			"Starting clear auto state Example",
			"1 Step: Change metadata of OID(0xF1D0) Data object type  =  Pre-shared secret",
			"2 Step: Get the User Secret and store it in OID(0xF1D0)",
			"3 Step: Generate auth code with optional data",
			"4 Step: Calculate HMAC on host using mbedtls",
			"5 Step: Perform HMAC verification",
			"6 Step: Perform clear auto state")},
		{"hmac verify", "hmacverify", s.banner(r.HMACVerifyWithAuthorizationReference,
			"Starting HMAC verify with authorization reference Example",
			"1 Step: Get the User Secret and store it in OID(0xF1D0)",
			"2 Step: Set the metadata of 0xF1E0 to Auto with 0xF1D0",
			"3 Step: Generate authorization code with optional data",
			"4 Step: Calculate HMAC on host using mbedtls",
			"5 Step: Perform HMAC verification")},
	}

	table := make([]Command, 0, len(cmds))
	for _, c := range cmds {
		table = append(table, Command{Name: c.name, Description: row(c.desc), Handler: c.handler})
	}

	return table
}

// selftestOrder lists the options run by selftest, in order.
var selftestOrder = []string{
	"init", "readdata", "writedata", "coprocid", "bind", "counter", "protected",
	"hash", "hashsha256", "prf", "random",
	"ecckeygen", "ecdsasign", "ecdsaverify", "ecdh",
	"rsakeygen", "rsasign", "rsaverify", "rsaencmsg", "rsaencsession", "rsadecstore", "rsadecexp",
	"ecbencdec", "cbcencdec", "cbcmacenc", "hmac", "hkdf", "aeskeygen", "clrautostate", "hmacverify",
	"deinit",
}

// banner returns a handler printing lines before running fn.
func (s *Shell) banner(fn func(ctx context.Context) error, lines ...string) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		for _, l := range lines {
			s.out.Shellf("%s", l)
		}

		return fn(ctx)
	}
}

func (s *Shell) help(context.Context) error {
	s.ShowUsage()

	return nil
}

func (s *Shell) readData(ctx context.Context) error {
	exclusive := s.runner.ExclusiveInit()
	if !exclusive {
		s.out.Shellf("Initializing OPTIGA for example demonstration...")
	}
	s.out.Shellf("Starting Read Data/Metadata Example")
	s.out.Shellf("1 Step: Read Certificate (~500 bytes)")
	s.out.Shellf("2 Step: Read Certificate Metadata")
	if !exclusive {
		s.out.Shellf("3 Step: Close the application on OPTIGA")
	}

	return s.runner.ReadData(ctx)
}

func (s *Shell) hibernate(ctx context.Context) error {
	return s.banner(s.runner.HibernateRestore,
		"Starting Hibernate and Restore Example",
		"1 Step: Open Application on the security chip",
		"2 Step: Pair the host and the security chip",
		"3 Step: Select Protected I2C Connection",
		"4 Step: Generate ECC NIST P-256 Key pair and store it in Session Data Object, export the public key",
		"5 Step: Check Security Event Counter and wait till it reaches 0",
		"6 Step: Perform Close application with Hibernate parameter set to True",
		"7 Step: Open Application on the security chip",
		"8 Step: Sign prepared data with private key stored in Session Data Object",
		"9 Step: Verify the signature with the public key generated previously",
		"10 Step: Close Applicaiton on the chip",
		"Important note: To continue with other examples you need to call the init parameter once again",
	)(ctx)
}

// Runner exposes the examples runner the table is bound to.
func (s *Shell) Runner() *examples.Runner {
	return s.runner
}
